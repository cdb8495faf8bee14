// Command reverie synthesizes dream images by octave gradient ascent.
//
//	reverie -config run.json -in photo.jpg -out dream.png
//	reverie -config run.json -in photo.jpg -survey vgg:28 -out survey.png
//	reverie -config run.json -in photo.jpg -describe
//	reverie -probe
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/openfluke/reverie/detector"
	"github.com/openfluke/reverie/dream"
	"github.com/openfluke/reverie/gpu"
	"github.com/openfluke/reverie/imageio"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("❌ %v", err)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("reverie", flag.ContinueOnError)
	configPath := fs.String("config", "", "JSON run configuration")
	in := fs.String("in", "", "input image")
	out := fs.String("out", "dream.png", "output image (.png, .jpg, .bmp)")
	probe := fs.Bool("probe", false, "print the WebGPU adapter report and exit")
	describe := fs.Bool("describe", false, "print every extractor's layers and output shapes for the input and exit")
	survey := fs.String("survey", "", "rank channels of <extractor>:<layer> and write a heatmap of the strongest instead of dreaming")
	palette := fs.Int("palette", 0, "also write a palette strip of N colours next to the output")
	paletteMethod := fs.String("palette-method", "dominant", "palette extraction: dominant or kmeans")

	var o overrides
	fs.IntVar(&o.steps, "steps", 0, "ascent steps per octave")
	fs.IntVar(&o.octaves, "octaves", 0, "number of octaves")
	fs.Float64Var(&o.stepSize, "step-size", 0, "ascent step size")
	fs.Float64Var(&o.scale, "scale", 0, "octave scale factor")
	fs.Float64Var(&o.sigma, "sigma", 0, "gradient blur sigma")
	fs.IntVar(&o.width, "width", 0, "resize input to this width")
	fs.IntVar(&o.height, "height", 0, "resize input to this height")
	fs.BoolVar(&o.gpu, "gpu", false, "blur gradients on the GPU")
	fs.IntVar(&o.every, "every", 0, "log progress every N steps")
	fs.StringVar(&o.observerURL, "observer-url", "", "POST progress events to this URL")

	if err := fs.Parse(args); err != nil {
		return err
	}
	o.set = map[string]bool{}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	if *probe {
		report, err := detector.DetectJSON()
		if err != nil {
			return fmt.Errorf("probe: %w", err)
		}
		fmt.Println(report)
		return nil
	}

	rc, err := loadRunConfig(*configPath)
	if err != nil {
		return err
	}
	o.apply(&rc)

	if *in == "" {
		return fmt.Errorf("-in is required")
	}
	extractors, err := rc.loadExtractors()
	if err != nil {
		return err
	}
	norm := rc.norm()
	img, err := imageio.LoadTensor(*in, rc.Width, rc.Height, norm)
	if err != nil {
		return err
	}
	log.Printf("📷 loaded %s as %s", *in, img)

	if *describe {
		return runDescribe(rc.Extractors, extractors, img)
	}
	if *survey != "" {
		return runSurvey(extractors, img, *survey, *out)
	}

	opts := []dream.Option{dream.WithObserver(&dream.ConsoleObserver{Every: rc.ProgressEvery})}
	if rc.ObserverURL != "" {
		opts = append(opts, dream.WithObserver(dream.NewHTTPObserver(rc.ObserverURL)))
	}
	if rc.GPU {
		if blur, err := gpu.NewBlur(); err != nil {
			log.Printf("⚠️  GPU unavailable (%v), blurring on CPU", err)
		} else {
			defer blur.Release()
			opts = append(opts, dream.WithSmoother(blur))
		}
	}

	d, err := dream.New(rc.Config, extractors, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	result, err := d.Run(ctx, img)
	if err != nil {
		return err
	}
	log.Printf("✅ done in %v", time.Since(start).Round(time.Millisecond))

	final, err := imageio.Deprocess(result, norm)
	if err != nil {
		return err
	}
	if err := imageio.Save(*out, final); err != nil {
		return err
	}
	log.Printf("💾 wrote %s", *out)

	if *palette > 0 {
		method, err := imageio.ParsePaletteMethod(*paletteMethod)
		if err != nil {
			return err
		}
		path := siblingPath(*out, "_palette")
		if err := imageio.SavePalette(imageio.Palette(final, *palette, method), 48, path); err != nil {
			return err
		}
		log.Printf("🎨 wrote %s", path)
	}
	return nil
}

// siblingPath inserts suffix before the extension of path.
func siblingPath(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix + ext
}
