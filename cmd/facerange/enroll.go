package main

import (
	"fmt"
	"os"

	"github.com/MrCodeEU/facerange/pkg/gallery"
	"github.com/MrCodeEU/facerange/pkg/logging"
	"github.com/MrCodeEU/facerange/pkg/recognition"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	enrollSamples int
	enrollStrict  bool
)

var enrollCmd = &cobra.Command{
	Use:   "enroll [identity...]",
	Short: "Build the gallery and report what was enrolled",
	Long: `Build the reference gallery from the configured samples and print a
per-identity summary. Identities given as arguments override the
configured list.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			cfg.Gallery.Identities = args
		}
		if cmd.Flags().Changed("samples") {
			cfg.Gallery.SamplesPerIdentity = enrollSamples
		}
		if enrollStrict {
			cfg.Gallery.RequireSamples = true
		}

		identities, err := resolveIdentities(cfg)
		if err != nil {
			return err
		}

		recognizer := newRecognizer(cfg)
		defer func() { _ = recognizer.Close() }()
		if err := recognizer.LoadModels(cfg.Recognition.ModelPath); err != nil {
			return err
		}

		bar := progressbar.NewOptions(len(identities)*cfg.Gallery.SamplesPerIdentity,
			progressbar.OptionSetDescription("Enrolling"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)

		builder := newBuilder(cfg, recognizer)
		builder.Progress = func(ev gallery.SampleEvent) {
			_ = bar.Add(1)
		}

		g, err := builder.Build(cmd.Context(), identities, cfg.Gallery.SamplesPerIdentity)
		_ = bar.Finish()
		if err != nil {
			return err
		}

		logging.Infof("Enrolled %d identities", g.Len())
		printGallery(g, cfg.Gallery.SamplesPerIdentity)
		return nil
	},
}

func init() {
	enrollCmd.Flags().IntVar(&enrollSamples, "samples", 0, "Samples per identity (overrides config)")
	enrollCmd.Flags().BoolVar(&enrollStrict, "strict", false, "Fail if any identity has no usable sample")
}

func printGallery(g *gallery.Gallery, samples int) {
	fmt.Println("Enrolled identities:")
	g.Each(func(id gallery.Identity, descriptors []recognition.Descriptor) {
		fmt.Printf("  %-24s %d/%d samples\n", id, len(descriptors), samples)
	})
	fmt.Printf("\nTotal: %d identities, %d descriptors\n", g.Len(), g.DescriptorCount())

	if unmatchable := g.Unmatchable(); len(unmatchable) > 0 {
		fmt.Println("\nWarning: these identities have no usable samples and can never be matched:")
		for _, id := range unmatchable {
			fmt.Printf("  - %s\n", id)
		}
	}
	fmt.Printf("\nFingerprint: %s\n", g.Fingerprint())
}
