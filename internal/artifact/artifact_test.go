package artifact

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFormat(t *testing.T) {
	var buf bytes.Buffer
	samples := []complex64{complex(1, 0), complex(0.5, -0.25), complex(0, 0), complex(-3, 1e-7)}
	if err := Write(&buf, samples); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := "0 1 0\n1 0.5 -0.25\n2 0 0\n3 -3 1e-07\n"
	if buf.String() != want {
		t.Fatalf("unexpected output:\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestWriteEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected empty output, got %q", buf.String())
	}
}

func TestWriteFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "RX_IQ_AutoSettings.dat")
	samples := []complex64{complex(0.125, -0.5), complex(2, 3)}
	if err := WriteFile(path, samples); err != nil {
		t.Fatalf("write file: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if len(got) != 2 || got[0] != samples[0] || got[1] != samples[1] {
		t.Fatalf("unexpected samples %v", got)
	}
}

func TestWriteFileTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.dat")
	if err := WriteFile(path, make([]complex64, 5)); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := WriteFile(path, make([]complex64, 2)); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Fatalf("expected 2 lines, got %d", n)
	}
}

func TestWriteFileBadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.dat")
	if err := WriteFile(path, nil); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestReadRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"fields":   "0 1\n",
		"order":    "1 0 0\n",
		"index":    "x 0 0\n",
		"real":     "0 a 0\n",
		"imag":     "0 0 b\n",
		"skipping": "0 0 0\n2 0 0\n",
	}
	for name, in := range cases {
		if _, err := Read(strings.NewReader(in)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
