package runlog

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/valyala/fastjson"

	"github.com/ostwerk/cwatch/pkg/logbuf"
)

// Archive is the parsed content of one run archive. Result is nil when
// the writing process died before closing the archive.
type Archive struct {
	Meta    Meta
	Records []logbuf.Record
	Result  *Result
}

// Read parses the archive at path.
func Read(path string) (*Archive, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	zr, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()

	arch := &Archive{}
	var p fastjson.Parser
	br := bufio.NewReader(zr)
	for {
		line, readErr := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if err := parseLine(&p, line, arch); err != nil {
				return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read archive: %w", readErr)
		}
	}
	return arch, nil
}

func parseLine(p *fastjson.Parser, line []byte, arch *Archive) error {
	v, err := p.ParseBytes(line)
	if err != nil {
		return err
	}
	switch string(v.GetStringBytes("kind")) {
	case "meta":
		arch.Meta = Meta{
			ID:       string(v.GetStringBytes("id")),
			Service:  string(v.GetStringBytes("service")),
			Hostname: string(v.GetStringBytes("hostname")),
		}
		for _, el := range v.GetArray("args") {
			arch.Meta.Args = append(arch.Meta.Args, string(el.GetStringBytes()))
		}
		t, err := parseTime(v, "started")
		if err != nil {
			return err
		}
		arch.Meta.Started = t
	case "record":
		t, err := parseTime(v, "time")
		if err != nil {
			return err
		}
		arch.Records = append(arch.Records, logbuf.Record{
			Time:   t,
			Level:  logbuf.Level(v.GetInt("level")),
			Origin: logbuf.Origin(v.GetStringBytes("origin")),
			Text:   string(v.GetStringBytes("text")),
		})
	case "result":
		t, err := parseTime(v, "finished")
		if err != nil {
			return err
		}
		arch.Result = &Result{
			ExitCode: v.GetInt("exit_code"),
			Finished: t,
		}
	}
	// Unknown kinds are skipped so newer writers stay readable.
	return nil
}

func parseTime(v *fastjson.Value, key string) (time.Time, error) {
	raw := string(v.GetStringBytes(key))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s: %w", key, err)
	}
	return t, nil
}

// Latest returns the newest archive in dir, relying on the
// chronological file naming. An empty string means the directory holds
// no archives.
func Latest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read log dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), Extension) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]), nil
}
