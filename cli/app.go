// Package cli contains the netft command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/netft/config"
	"go.viam.com/netft/logging"
	"go.viam.com/netft/pipeline"
	"go.viam.com/netft/ros"
	"go.viam.com/netft/services/netft"
	"go.viam.com/netft/transport/mqttbridge"
	"go.viam.com/netft/web"
)

const (
	flagBag         = "bag"
	flagConfig      = "config"
	flagDebug       = "debug"
	flagInput       = "input"
	flagTFTopic     = "tf-topic"
	flagWrenchTopic = "wrench-topic"
)

// NewApp returns the netft command line app writing to out and errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:      "netft",
		Usage:     "calibrate and transform six-axis force/torque readings",
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the calibration service",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagConfig,
						Aliases:  []string{"c"},
						Required: true,
						Usage:    "load configuration from `FILE`",
					},
				},
				Action: RunAction,
			},
			{
				Name:      "replay",
				Usage:     "feed recorded samples, poses and calibration requests through the pipeline",
				UsageText: "netft replay --config FILE [--input FILE | --bag FILE]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagConfig,
						Aliases:  []string{"c"},
						Required: true,
						Usage:    "load configuration from `FILE`",
					},
					&cli.StringFlag{
						Name:    flagInput,
						Aliases: []string{"i"},
						Usage:   "read JSON lines from `FILE` instead of stdin",
					},
					&cli.StringFlag{
						Name:  flagBag,
						Usage: "replay wrench and tf messages recorded in the ROS bag `FILE`",
					},
					&cli.StringFlag{
						Name:  flagWrenchTopic,
						Value: ros.DefaultWrenchTopic,
						Usage: "bag topic carrying WrenchStamped messages",
					},
					&cli.StringFlag{
						Name:  flagTFTopic,
						Value: ros.DefaultTFTopic,
						Usage: "bag topic carrying TFMessage messages",
					},
				},
				Action: ReplayAction,
			},
			{
				Name:   "ops",
				Usage:  "list calibration operations",
				Action: OpsAction,
			},
		},
	}
}

// OpsAction is the corresponding Action for 'ops'.
func OpsAction(c *cli.Context) error {
	for _, op := range pipeline.Ops() {
		kind := "query"
		if op.Mutating() {
			kind = "mutating"
		}
		printf(c.App.Writer, "%s\t%s", op, kind)
	}
	return nil
}

func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// newLogger builds the service logger from the log section of cfg. The returned closer closes
// the log file and is nil without one.
func newLogger(c *cli.Context, cfg *config.Config, out io.Writer) (logging.Logger, io.Closer, error) {
	logger := logging.NewBlankLogger(cfg.Name)
	logger.AddAppender(logging.NewWriterAppender(out))
	level, err := logging.LevelFromString(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	if c.Bool(flagDebug) {
		level = logging.DEBUG
	}
	logger.SetLevel(level)

	var closer io.Closer
	if cfg.Log.File != "" {
		appender, fileCloser := logging.NewFileAppender(logging.FileAppenderConfig{
			Filename:   cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		logger.AddAppender(appender)
		closer = fileCloser
	}
	return logger, closer, nil
}

// RunAction is the corresponding Action for 'run'.
func RunAction(c *cli.Context) error {
	cfg, err := config.Read(c.String(flagConfig))
	if err != nil {
		return err
	}
	logger, logCloser, err := newLogger(c, cfg, c.App.ErrWriter)
	if err != nil {
		return err
	}
	defer func() {
		//nolint:errcheck
		logger.Sync()
		if logCloser != nil {
			//nolint:errcheck
			logCloser.Close()
		}
	}()
	logging.ReplaceGlobal(logger)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, cfg, logger)
}

func run(ctx context.Context, cfg *config.Config, logger logging.Logger) (err error) {
	svc, err := netft.New(ctx, cfg, netft.Options{}, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, svc.Close(context.Background()))
	}()

	if cfg.MQTT != nil {
		client, err := mqttbridge.Connect(mqttbridge.ClientConfig{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		}, logger.Sublogger("mqtt"))
		if err != nil {
			return err
		}
		bridge := mqttbridge.New(client, mqttbridge.Config{TopicPrefix: cfg.MQTT.TopicPrefix, QoS: cfg.MQTT.QoS}, svc, logger.Sublogger("mqtt"))
		defer func() {
			err = multierr.Combine(err, bridge.Close())
		}()
		if err := bridge.Start(ctx); err != nil {
			return err
		}
		svc.AddObserver(bridge)
		svc.AddCanceller(bridge)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(ctx)
	if cfg.Web != nil {
		hub := web.NewHub(logger.Sublogger("stream"))
		svc.AddObserver(hub)
		svc.AddCanceller(hub)
		server := web.NewServer(svc, hub, logger.Sublogger("web"))
		group.Go(func() error {
			return errors.Wrap(server.Serve(groupCtx, cfg.Web.Address), "web server stopped")
		})
	}

	if err := svc.Start(groupCtx); err != nil {
		cancel()
		return multierr.Combine(err, group.Wait())
	}
	logger.Infow("netft running", "name", svc.Name(), "frames", cfg.Frames)

	<-groupCtx.Done()
	logger.Info("shutting down")
	return group.Wait()
}
