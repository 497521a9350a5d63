package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/netft/config"
	"go.viam.com/netft/logging"
	"go.viam.com/netft/pipeline"
	"go.viam.com/netft/ros"
	"go.viam.com/netft/services/netft"
	"go.viam.com/netft/spatialmath"
	"go.viam.com/netft/wrench"
)

// replayStep is the time between entries that carry no timestamp.
const replayStep = 10 * time.Millisecond

// ReplayEntry is one line of a replay file. Exactly one of Wrench, Pose and Op is set.
type ReplayEntry struct {
	Wrench *wrench.Wrench         `json:"wrench,omitempty"`
	Pose   *ReplayPose            `json:"pose,omitempty"`
	Op     pipeline.Op            `json:"op,omitempty"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// ReplayPose moves a dynamic frame.
type ReplayPose struct {
	Frame       string                         `json:"frame"`
	Translation spatialmath.TranslationConfig  `json:"translation"`
	Orientation *spatialmath.OrientationConfig `json:"orientation,omitempty"`
	Time        time.Time                      `json:"time"`
}

// ReplayResult is written for every wrench and op entry.
type ReplayResult struct {
	Line     int                `json:"line"`
	Outputs  *pipeline.Outputs  `json:"outputs,omitempty"`
	Response *pipeline.Response `json:"response,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// ReplayAction is the corresponding Action for 'replay'.
func ReplayAction(c *cli.Context) error {
	cfg, err := config.Read(c.String(flagConfig))
	if err != nil {
		return err
	}
	logger, logCloser, err := newLogger(c, cfg, c.App.ErrWriter)
	if err != nil {
		return err
	}
	defer func() {
		if logCloser != nil {
			//nolint:errcheck
			logCloser.Close()
		}
	}()

	if path := c.String(flagBag); path != "" {
		events, err := ros.ReadSession(path, c.String(flagWrenchTopic), c.String(flagTFTopic))
		if err != nil {
			return err
		}
		return runReplay(c.Context, cfg, bagEntries(events), c.App.Writer, logger)
	}

	in := io.Reader(os.Stdin)
	if path := c.String(flagInput); path != "" {
		f, err := os.Open(path) //nolint:gosec
		if err != nil {
			return errors.Wrapf(err, "cannot open replay input %q", path)
		}
		defer func() {
			//nolint:errcheck
			f.Close()
		}()
		in = f
	}
	return replay(c.Context, cfg, in, c.App.Writer, logger)
}

type numberedEntry struct {
	line  int
	entry ReplayEntry
}

func readEntries(in io.Reader) ([]numberedEntry, error) {
	var entries []numberedEntry
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry ReplayEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		entries = append(entries, numberedEntry{line: line, entry: entry})
	}
	return entries, scanner.Err()
}

// bagEntries numbers events from a recorded bag by their position in the session.
func bagEntries(events []ros.Event) []numberedEntry {
	entries := make([]numberedEntry, 0, len(events))
	for i, ev := range events {
		var entry ReplayEntry
		switch {
		case ev.Wrench != nil:
			entry.Wrench = ev.Wrench
		case ev.Pose != nil:
			q := ev.Pose.Pose.Orientation().Quaternion()
			entry.Pose = &ReplayPose{
				Frame:       ev.Pose.Frame,
				Translation: *spatialmath.NewTranslationConfig(ev.Pose.Pose.Point()),
				Orientation: &spatialmath.OrientationConfig{
					Type:  spatialmath.QuaternionType,
					Value: map[string]float64{"w": q.Real, "x": q.Imag, "y": q.Jmag, "z": q.Kmag},
				},
				Time: ev.Time,
			}
		default:
			continue
		}
		entries = append(entries, numberedEntry{line: i + 1, entry: entry})
	}
	return entries
}

// replay runs every entry of in against a fresh service on a simulated clock and writes one
// result per wrench and op entry to out.
func replay(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, logger logging.Logger) error {
	entries, err := readEntries(in)
	if err != nil {
		return err
	}
	return runReplay(ctx, cfg, entries, out, logger)
}

func runReplay(ctx context.Context, cfg *config.Config, entries []numberedEntry, out io.Writer, logger logging.Logger) (err error) {
	clk := clock.NewMock()
	svc, err := netft.New(ctx, cfg, netft.Options{Clock: clk}, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, svc.Close(context.Background()))
	}()

	enc := json.NewEncoder(out)
	for _, e := range entries {
		result, err := replayEntry(ctx, svc, clk, e.entry)
		if err != nil {
			return errors.Wrapf(err, "line %d", e.line)
		}
		if result == nil {
			continue
		}
		result.Line = e.line
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	return nil
}

// advance moves the simulated clock to at, or one step on when at is zero.
func advance(clk *clock.Mock, at time.Time) {
	switch {
	case at.IsZero():
		clk.Add(replayStep)
	case at.After(clk.Now()):
		clk.Set(at)
	}
}

func replayEntry(ctx context.Context, svc *netft.Service, clk *clock.Mock, entry ReplayEntry) (*ReplayResult, error) {
	switch {
	case entry.Wrench != nil:
		advance(clk, entry.Wrench.Time)
		out, err := svc.Update(ctx, *entry.Wrench)
		if err != nil {
			return &ReplayResult{Error: err.Error()}, nil
		}
		return &ReplayResult{Outputs: &out}, nil
	case entry.Pose != nil:
		orientation, err := entry.Pose.Orientation.ParseConfig()
		if err != nil {
			return nil, err
		}
		advance(clk, entry.Pose.Time)
		at := entry.Pose.Time
		if at.IsZero() {
			at = clk.Now()
		}
		return nil, svc.SetPose(entry.Pose.Frame, spatialmath.NewPose(entry.Pose.Translation.ParseConfig(), orientation), at)
	case entry.Op != "":
		req, err := pipeline.DecodeRequest(entry.Op, entry.Params)
		if err != nil {
			return &ReplayResult{Error: err.Error()}, nil
		}
		//nolint:errcheck
		resp, _ := svc.Do(ctx, req)
		return &ReplayResult{Response: &resp}, nil
	default:
		return nil, errors.New("entry has no wrench, pose or op")
	}
}
