package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rjboer/rxcal/internal/sdr"
)

// runDiscover lists the devices a selector enumerates, one block per device.
func runDiscover(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(out)
	browse := fs.Duration("browse", 2*time.Second, "mDNS browse time for network drivers")
	if err := fs.Parse(args); err != nil {
		return err
	}
	selector := strings.Join(fs.Args(), ",")

	sel, err := sdr.ParseArgs(selector)
	if err != nil {
		return err
	}
	if _, ok := sel["browse"]; !ok {
		sel["browse"] = browse.String()
	}

	start := time.Now()
	found, err := sdr.Enumerate(ctx, sel.String())
	if err != nil {
		return err
	}
	elapsed := time.Since(start).Truncate(time.Millisecond)
	if len(found) == 0 {
		fmt.Fprintf(out, "No devices found (%s)\n", elapsed)
		return nil
	}

	fmt.Fprintf(out, "Discovered %d device(s) in %s\n", len(found), elapsed)
	for i, args := range found {
		fmt.Fprintf(out, " Device #%d\n", i+1)
		keys := make([]string, 0, len(args))
		for k := range args {
			if k != "browse" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "   %-8s %s\n", k, args[k])
		}
		delete(args, "browse")
		fmt.Fprintf(out, "   use: -device %q\n", args.String())
	}
	return nil
}
