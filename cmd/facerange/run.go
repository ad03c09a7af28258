package main

import (
	"context"
	"errors"

	"github.com/MrCodeEU/facerange/pkg/camera"
	"github.com/MrCodeEU/facerange/pkg/logging"
	"github.com/MrCodeEU/facerange/pkg/pipeline"
	"github.com/MrCodeEU/facerange/pkg/render"
	"github.com/MrCodeEU/facerange/pkg/status"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	runImage    string
	runHeadless bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run live recognition on the camera feed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecognition(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&runImage, "image", "", "Use a still image instead of the camera")
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "Do not open a display window")
}

func runRecognition(ctx context.Context) error {
	session := uuid.NewString()
	log := logging.Component("run").WithField("session", session)

	identities, err := resolveIdentities(cfg)
	if err != nil {
		return err
	}

	recognizer := newRecognizer(cfg)
	defer func() { _ = recognizer.Close() }()

	var source camera.Source
	if runImage != "" {
		source = camera.NewStillSource(runImage)
	} else {
		source = camera.NewVideoSource(cfg.Camera.Device, cfg.Camera.Width, cfg.Camera.Height)
	}

	var surface render.Surface
	if !runHeadless && !cfg.Display.Headless {
		// Closed by the pipeline loop on the thread that drew it.
		surface = render.NewWindowSurface(cfg.Display.WindowName, cfg.Display.Width, cfg.Display.Height)
	}

	p := pipeline.New(recognizer, newBuilder(cfg, recognizer), source, surface, pipeline.Options{
		ModelPath:          cfg.Recognition.ModelPath,
		Identities:         identities,
		SamplesPerIdentity: cfg.Gallery.SamplesPerIdentity,
		Threshold:          cfg.Recognition.MatchThreshold,
		Calibration:        calibration(cfg),
		Interval:           cfg.Loop.Interval,
		Session:            session,
	})

	log.WithFields(logging.Fields{
		"identities": len(identities),
		"detector":   recognizer.Mode(),
		"headless":   surface == nil,
	}).Info("Starting recognition")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Start(gctx)
	})
	if cfg.Status.Enabled {
		srv := status.NewServer(cfg.Status.Listen, p)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
