// Package opendata downloads fields from the ECMWF open-data service and its
// cloud mirrors. Each forecast file is published with a JSON-lines index;
// the client reads the index, keeps the records matching the request and
// fetches only their byte ranges.
package opendata

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/ashkanshokri/ecmwf-downloader/internal/config"
	"github.com/ashkanshokri/ecmwf-downloader/internal/logging"
)

var (
	// ErrUnknownSource is returned for a source that is neither a known
	// mirror name nor an http(s) URL.
	ErrUnknownSource = errors.New("unknown open-data source")
	// ErrNoMatchingRecords is returned when the indexes list no field matching the request.
	ErrNoMatchingRecords = errors.New("no index records match the request")

	errUnexpectedStatus = errors.New("unexpected status code")
)

// Roots maps source names to the base URL of their forecast tree.
var Roots = map[string]string{
	"ecmwf":  "https://data.ecmwf.int/forecasts",
	"azure":  "https://ai4edataeuwest.blob.core.windows.net/ecmwf",
	"aws":    "https://ecmwf-forecasts.s3.eu-central-1.amazonaws.com",
	"google": "https://storage.googleapis.com/ecmwf-open-data",
}

// Options tune a Client.
type Options struct {
	HTTPClient *http.Client
	Log        logging.Logger
	// Model and Resol select the product directory; they default to ifs and 0p25.
	Model string
	Resol string
}

// Client fetches open-data files from one source.
type Client struct {
	source  string
	root    string
	model   string
	resol   string
	http    *http.Client
	log     logging.Logger
	circuit *gobreaker.CircuitBreaker
}

// New returns a client for source, a name from Roots or a base URL.
func New(source string, opts Options) (*Client, error) {
	root, ok := Roots[strings.ToLower(strings.TrimSpace(source))]
	if !ok {
		if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
			return nil, errors.Wrapf(ErrUnknownSource, "%q", source)
		}
		root = source
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if opts.Log == nil {
		opts.Log = logging.Nop()
	}
	if opts.Model == "" {
		opts.Model = "ifs"
	}
	if opts.Resol == "" {
		opts.Resol = "0p25"
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "opendata-" + source,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Client{
		source:  source,
		root:    strings.TrimRight(root, "/"),
		model:   opts.Model,
		resol:   opts.Resol,
		http:    opts.HTTPClient,
		log:     opts.Log,
		circuit: cb,
	}, nil
}

func (c *Client) Name() string { return c.source }

// Record is one line of an index file.
type Record struct {
	Type     string `json:"type"`
	Stream   string `json:"stream"`
	Step     string `json:"step"`
	Levtype  string `json:"levtype"`
	Levelist string `json:"levelist"`
	Number   string `json:"number"`
	Param    string `json:"param"`
	Offset   int64  `json:"_offset"`
	Length   int64  `json:"_length"`
}

// Retrieve writes every field matching req to target, replacing any existing
// file. Nothing is left at target on error.
func (c *Client) Retrieve(ctx context.Context, req config.Request, target string) (err error) {
	out, err := os.Create(target)
	if err != nil {
		return errors.Wrap(err, "create target")
	}
	defer func() {
		cerr := out.Close()
		if err == nil {
			err = errors.Wrap(cerr, "close target")
		}
		if err != nil {
			_ = os.Remove(target)
		}
	}()

	times := req.Time
	if len(times) == 0 {
		times = []int{0}
	}
	steps := req.Step
	if len(steps) == 0 {
		steps = []int{0}
	}
	matched := 0
	for _, hour := range times {
		for _, step := range steps {
			dataURL := c.URL(req, hour, step)
			records, err := c.index(ctx, strings.TrimSuffix(dataURL, ".grib2")+".index")
			if err != nil {
				return err
			}
			selected := Select(records, req)
			c.log.Debugf("%s: %d of %d records selected", dataURL, len(selected), len(records))
			for _, r := range MergeRanges(selected) {
				if err := c.fetchRange(ctx, dataURL, r, out); err != nil {
					return err
				}
			}
			matched += len(selected)
		}
	}
	if matched == 0 {
		return errors.Wrapf(ErrNoMatchingRecords, "%s %s", c.source, req.Date.Format("20060102"))
	}
	return nil
}

// URL is the location of the data file for one run hour and step.
func (c *Client) URL(req config.Request, hour, step int) string {
	if hour >= 100 {
		hour /= 100
	}
	stream := streamFor(req.Stream, hour)
	run := time.Date(req.Date.Year(), req.Date.Month(), req.Date.Day(), hour, 0, 0, 0, time.UTC)
	return fmt.Sprintf("%s/%s/%02dz/%s/%s/%s/%s-%dh-%s-%s.grib2",
		c.root, run.Format("20060102"), hour, c.model, c.resol, stream,
		run.Format("20060102150405"), step, stream, fileType(stream))
}

// streamFor returns the published stream name: the 06 and 18 UTC
// deterministic runs are published as scda and scwv.
func streamFor(stream string, hour int) string {
	if stream == "" {
		stream = "oper"
	}
	if hour == 6 || hour == 18 {
		switch stream {
		case "oper":
			return "scda"
		case "wave":
			return "scwv"
		}
	}
	return stream
}

func fileType(stream string) string {
	switch stream {
	case "enfo", "waef":
		return "ef"
	default:
		return "fc"
	}
}

// Select keeps the records matching req. Empty request lists match anything;
// records without a member number match any requested number.
func Select(records []Record, req config.Request) []Record {
	var out []Record
	for _, r := range records {
		if len(req.Type) > 0 && !slices.Contains(req.Type, r.Type) {
			continue
		}
		if len(req.Param) > 0 && !slices.Contains(req.Param, r.Param) {
			continue
		}
		if req.Levtype != "" && r.Levtype != req.Levtype {
			continue
		}
		if len(req.Levelist) > 0 && !containsInt(req.Levelist, r.Levelist) {
			continue
		}
		if len(req.Number) > 0 && r.Number != "" && !containsInt(req.Number, r.Number) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func containsInt(list []int, s string) bool {
	v, err := strconv.Atoi(s)
	return err == nil && slices.Contains(list, v)
}

// Range is a byte range of a data file.
type Range struct {
	Offset int64
	Length int64
}

// MergeRanges sorts the records by offset and joins contiguous ones.
func MergeRanges(records []Record) []Range {
	sorted := slices.Clone(records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })
	var out []Range
	for _, r := range sorted {
		if n := len(out); n > 0 && out[n-1].Offset+out[n-1].Length == r.Offset {
			out[n-1].Length += r.Length
			continue
		}
		out = append(out, Range{Offset: r.Offset, Length: r.Length})
	}
	return out
}

func (c *Client) index(ctx context.Context, url string) ([]Record, error) {
	resp, err := c.get(ctx, url, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var records []Record
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			return nil, errors.Wrapf(err, "parse index %s", url)
		}
		records = append(records, r)
	}
	return records, errors.Wrapf(sc.Err(), "read index %s", url)
}

func (c *Client) fetchRange(ctx context.Context, url string, r Range, w io.Writer) error {
	header := http.Header{}
	header.Set("Range", fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Length-1))
	resp, err := c.get(ctx, url, header, http.StatusPartialContent)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return errors.Wrapf(err, "download %s", url)
	}
	if n != r.Length {
		return errors.Errorf("download %s: got %d bytes, expected %d", url, n, r.Length)
	}
	return nil
}

// get issues one GET through the circuit breaker and checks the status.
func (c *Client) get(ctx context.Context, url string, header http.Header, want int) (*http.Response, error) {
	result, err := c.circuit.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range header {
			req.Header[k] = v
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != want {
			_ = resp.Body.Close()
			return nil, errors.Wrapf(errUnexpectedStatus, "GET %s: %d", url, resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	resp, ok := result.(*http.Response)
	if !ok {
		return nil, errors.New("unexpected result type from circuit breaker")
	}
	return resp, nil
}
