package dream

import (
	"fmt"
	"sort"

	"github.com/openfluke/reverie/extractor"
	"github.com/openfluke/reverie/tensor"
)

// ChannelStat summarizes one channel of a layer's activation.
type ChannelStat struct {
	Channel int     `json:"channel"`
	Mean    float64 `json:"mean"`
	Norm    float64 `json:"norm"`
}

// Survey runs ex on img and ranks the channels at sel by mean activation,
// strongest first. It also returns the primary activation so callers can
// render individual channels. Useful for choosing target channels.
func Survey(ex extractor.Extractor, img *tensor.Image, sel extractor.Selector) ([]ChannelStat, *tensor.Image, error) {
	if err := ex.Resolve(sel); err != nil {
		return nil, nil, err
	}
	actx := extractor.NewActivationContext()
	if _, err := ex.Forward(img, []extractor.Selector{sel}, actx); err != nil {
		return nil, nil, err
	}
	res, ok := actx.Get(sel)
	if !ok {
		return nil, nil, fmt.Errorf("layer %s was not captured", sel)
	}

	act := res.Primary
	stats := make([]ChannelStat, act.C)
	for c := range stats {
		ch := act.Channel(c)
		stats[c] = ChannelStat{Channel: c, Mean: ch.Mean(), Norm: ch.Norm()}
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Mean > stats[j].Mean })
	return stats, act, nil
}
