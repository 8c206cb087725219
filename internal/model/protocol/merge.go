package protocol

import (
	"fmt"
	"strings"
)

// Merge applies overlays onto base by id. Set fields of an overlay replace
// the base values; an overlay with a new id adds a protocol. Transfer targets
// must name a protocol of the result.
func Merge(base, overlays []Protocol) ([]Protocol, error) {
	out := append([]Protocol(nil), base...)
	index := make(map[string]int, len(out))
	for i, p := range out {
		index[p.ID] = i
	}

	for _, o := range overlays {
		o.ID = strings.TrimSpace(o.ID)
		if o.ID == "" {
			return nil, fmt.Errorf("protocol override without id")
		}
		i, ok := index[o.ID]
		if !ok {
			index[o.ID] = len(out)
			out = append(out, o)
			continue
		}
		out[i] = overlay(out[i], o)
	}

	for _, p := range out {
		if p.TransferTarget == "" {
			continue
		}
		if _, ok := index[p.TransferTarget]; !ok || p.TransferTarget == p.ID {
			return nil, fmt.Errorf("protocol %s: invalid transfer target %q", p.ID, p.TransferTarget)
		}
	}
	return out, nil
}

func overlay(p, o Protocol) Protocol {
	if o.Name != "" {
		p.Name = o.Name
	}
	if o.IDPrefix != "" {
		p.IDPrefix = o.IDPrefix
	}
	if o.Model != "" {
		p.Model = o.Model
	}
	if o.Temperature != 0 {
		p.Temperature = o.Temperature
	}
	if o.TopP != 0 {
		p.TopP = o.TopP
	}
	if o.Timeout != 0 {
		p.Timeout = o.Timeout
	}
	if o.SystemPrompt != "" {
		p.SystemPrompt = o.SystemPrompt
	}
	if o.OpeningInstruction != "" {
		p.OpeningInstruction = o.OpeningInstruction
	}
	if o.FollowUpHint != "" {
		p.FollowUpHint = o.FollowUpHint
	}
	if o.TransferTarget != "" {
		p.TransferTarget = o.TransferTarget
	}
	if o.MinAge != 0 {
		p.MinAge = o.MinAge
	}
	if o.TracksPregnancy {
		p.TracksPregnancy = true
	}
	if len(o.Questions) > 0 {
		p.Questions = append([]Question(nil), o.Questions...)
	}
	return p
}
