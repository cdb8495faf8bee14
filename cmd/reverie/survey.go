package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/openfluke/reverie/dream"
	"github.com/openfluke/reverie/extractor"
	"github.com/openfluke/reverie/imageio"
	"github.com/openfluke/reverie/tensor"
)

const surveyTop = 10

func runSurvey(extractors map[string]extractor.Extractor, img *tensor.Image, ref, out string) error {
	id, sel, err := parseLayerRef(ref)
	if err != nil {
		return err
	}
	ex, ok := extractors[id]
	if !ok {
		return fmt.Errorf("survey: unknown extractor %q", id)
	}

	stats, act, err := dream.Survey(ex, img, sel)
	if err != nil {
		return fmt.Errorf("survey %s: %w", ref, err)
	}

	log.Printf("🔎 %s layer %s: %d channels at %dx%d", id, sel, act.C, act.W, act.H)
	for i, s := range stats {
		if i == surveyTop {
			break
		}
		log.Printf("   #%d channel %4d  mean %.4f  norm %.4f", i+1, s.Channel, s.Mean, s.Norm)
	}

	heat, err := imageio.Heatmap(act.Plane(0, stats[0].Channel), act.H, act.W, img.W, img.H)
	if err != nil {
		return err
	}
	if err := imageio.Save(out, heat); err != nil {
		return err
	}
	log.Printf("💾 wrote heatmap of channel %d to %s", stats[0].Channel, out)
	return nil
}

func runDescribe(order []ExtractorConfig, extractors map[string]extractor.Extractor, img *tensor.Image) error {
	for _, ec := range order {
		bp, err := extractor.Describe(ec.ID, extractors[ec.ID], img.C, img.H, img.W)
		if err != nil {
			return err
		}
		b, err := json.MarshalIndent(bp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
	}
	return nil
}
