package audit

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func FuzzVerify(f *testing.F) {
	l, err := Open(filepath.Join(f.TempDir(), "seed.jsonl"))
	if err != nil {
		f.Fatal(err)
	}
	var seed bytes.Buffer
	for _, d := range []string{"allow", "deny", "allow"} {
		e := Entry{AgentID: "main", Tool: "exec", Decision: d, ConfigHash: "sha256:seed"}
		if err := l.Append(e); err != nil {
			f.Fatal(err)
		}
	}
	l.Close()
	if data, err := os.ReadFile(l.Path()); err == nil {
		seed.Write(data)
	}
	f.Add(seed.Bytes())
	f.Add([]byte{})
	f.Add([]byte("{\"prev_hash\":\"" + GenesisHash + "\"}\n{}\n"))
	f.Add([]byte("\n\n\n"))

	f.Fuzz(func(t *testing.T, data []byte) {
		r := VerifyReader(bytes.NewReader(data))
		nonEmpty := 0
		var last []byte
		for _, line := range bytes.Split(data, []byte("\n")) {
			line = bytes.TrimSuffix(line, []byte("\r"))
			if len(line) > 0 {
				nonEmpty++
				last = line
			}
		}
		if r.Lines > nonEmpty {
			t.Fatalf("verified %d lines out of %d", r.Lines, nonEmpty)
		}
		if !r.Valid {
			if r.Error == "" {
				t.Fatal("invalid result without error")
			}
			return
		}
		want := GenesisHash
		if last != nil {
			want = HashLine(last)
		}
		if r.Head != want {
			t.Fatalf("head %s does not hash the last line", r.Head)
		}
	})
}
