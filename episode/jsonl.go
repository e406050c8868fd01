package episode

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/memlens/memlens/types"
)

// WriteTrace writes one JSON object per line, one line per trace event.
// The schema is the TraceEvent wire form; attribution consumes it as-is.
func WriteTrace(w io.Writer, events []types.TraceEvent) error {
	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("encode trace event: %w", err)
		}
	}
	return nil
}

// ReadTrace reads a JSONL trace stream back into ordered events. Blank
// lines are skipped.
func ReadTrace(r io.Reader) ([]types.TraceEvent, error) {
	var events []types.TraceEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev types.TraceEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return events, nil
}

// WriteResults persists one Result per line, trace included, so a report
// can later be recomputed without rerunning anything.
func WriteResults(w io.Writer, results []Result) error {
	enc := json.NewEncoder(w)
	for _, res := range results {
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encode result %s: %w", res.EpisodeID, err)
		}
	}
	return nil
}

// ReadResults reads a results JSONL stream.
func ReadResults(r io.Reader) ([]Result, error) {
	var results []Result
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var res Result
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("results line %d: %w", line, err)
		}
		results = append(results, res)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	return results, nil
}

// WriteResultsFile writes results JSONL to a path, creating or truncating
// the file.
func WriteResultsFile(path string, results []Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := WriteResults(f, results); err != nil {
		return err
	}
	return f.Sync()
}

// ReadResultsFile reads results JSONL from a path.
func ReadResultsFile(path string) ([]Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadResults(f)
}
