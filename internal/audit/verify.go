package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// maxLineBytes bounds a single entry when scanning.
const maxLineBytes = 1 << 20

// VerifyResult is the outcome of a chain verification. ConfigHashes counts
// how many times the recorded configuration hash changed along the chain,
// which is one per hot reload that produced entries.
type VerifyResult struct {
	Valid         bool   `json:"valid"`
	Lines         int    `json:"lines"`
	Head          string `json:"head,omitempty"`
	ConfigChanges int    `json:"config_changes,omitempty"`
	Error         string `json:"error,omitempty"`
	ErrorLine     int    `json:"error_line,omitempty"`
}

// Verify checks the log at path. See VerifyReader.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()
	return VerifyReader(f)
}

// VerifyReader walks a JSONL chain and checks that every entry references
// the hash of the line before it, the first one referencing GenesisHash.
// Blank lines are ignored. The first broken link ends the walk.
func VerifyReader(r io.Reader) VerifyResult {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		res        VerifyResult
		prev       = GenesisHash
		configHash string
	)
	fail := func(line int, format string, args ...any) VerifyResult {
		res.Error = fmt.Sprintf(format, args...)
		res.ErrorLine = line
		res.Head = ""
		return res
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		n := res.Lines + 1

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return fail(n, "entry is not valid JSON: %v", err)
		}
		switch {
		case e.PrevHash == prev:
		case n == 1:
			return fail(n, "first entry links to %q instead of the genesis hash", e.PrevHash)
		default:
			return fail(n, "broken link: prev_hash %s, previous line hashes to %s", e.PrevHash, prev)
		}

		if res.Lines > 0 && e.ConfigHash != configHash {
			res.ConfigChanges++
		}
		configHash = e.ConfigHash
		prev = HashLine(line)
		res.Lines = n
	}
	if err := scanner.Err(); err != nil {
		return fail(0, "read: %v", err)
	}
	res.Valid = true
	res.Head = prev
	return res
}
