package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/MrCodeEU/facerange/pkg/camera"
	"github.com/MrCodeEU/facerange/pkg/matcher"
	"github.com/MrCodeEU/facerange/pkg/pipeline"
	"github.com/MrCodeEU/facerange/pkg/recognition"
	"github.com/MrCodeEU/facerange/pkg/render"
	"github.com/spf13/cobra"
)

var annotateOutput string

var annotateCmd = &cobra.Command{
	Use:   "annotate <image>",
	Short: "Recognize faces in a still image and write the annotated result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		identities, err := resolveIdentities(cfg)
		if err != nil {
			return err
		}

		recognizer := newRecognizer(cfg)
		defer func() { _ = recognizer.Close() }()
		if err := recognizer.LoadModels(cfg.Recognition.ModelPath); err != nil {
			return err
		}

		g, err := newBuilder(cfg, recognizer).Build(ctx, identities, cfg.Gallery.SamplesPerIdentity)
		if err != nil {
			return err
		}
		m, err := matcher.New(g, cfg.Recognition.MatchThreshold)
		if err != nil {
			return err
		}

		source := camera.NewStillSource(args[0])
		if err := source.Open(ctx); err != nil {
			return err
		}
		defer func() { _ = source.Close() }()

		frame, err := source.Read(ctx)
		if err != nil {
			return err
		}

		faces, err := recognizer.DetectAll(frame.Data)
		if err != nil && !errors.Is(err, recognition.ErrNoFaceDetected) {
			return err
		}

		annotations := pipeline.Annotate(m, calibration(cfg), faces)
		surface := render.NewImageSurface(frame.Width, frame.Height)
		defer func() { _ = surface.Close() }()

		boxes := make([]render.Box, len(annotations))
		for i, a := range annotations {
			boxes[i] = render.Box{Rect: a.Box, Label: a.Label}
			fmt.Printf("  %s\n", a.Label)
		}
		if err := render.Draw(surface, frame, boxes); err != nil {
			return err
		}
		fmt.Printf("%d face(s) found\n", len(annotations))

		out, err := os.Create(annotateOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = out.Close() }()

		if err := surface.Encode(out, render.FormatFromPath(annotateOutput)); err != nil {
			return fmt.Errorf("failed to write %s: %w", annotateOutput, err)
		}
		fmt.Printf("Annotated image written to %s\n", annotateOutput)
		return out.Close()
	},
}

func init() {
	annotateCmd.Flags().StringVarP(&annotateOutput, "output", "o", "annotated.png", "Output image (.png or .jpg)")
}
