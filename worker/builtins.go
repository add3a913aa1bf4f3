package worker

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/kcls/osrfgo/osrfmsg"
	"github.com/kcls/osrfgo/session"
)

// registerBuiltins adds the three introspection/liveness methods every
// worker publishes
func (w *Worker) registerBuiltins() {
	w.handlers["opensrf.system.echo"] = Registration{
		Handler: w.echo,
		Arity:   Any(),
		Summary: "echoes each parameter back, in order",
	}
	w.handlers["opensrf.system.time"] = Registration{
		Handler: w.systemTime,
		Arity:   Zero(),
		Summary: "returns seconds since the epoch",
	}
	w.handlers["opensrf.system.method.all"] = Registration{
		Handler: w.methodAll(false),
		Arity:   Range(0, 1),
		Summary: "lists registered method names, optionally filtered by prefix",
	}
	w.handlers["opensrf.system.method.all.summary"] = Registration{
		Handler: w.methodAll(true),
		Arity:   Range(0, 1),
		Summary: "lists registered methods with their summaries, optionally filtered by prefix",
	}
}

func (w *Worker) echo(ctx context.Context, s *session.Server, params []osrfmsg.Value) error {
	for i, p := range params {
		if i == len(params)-1 {
			return s.RespondComplete(ctx, p)
		}
		if err := s.Respond(ctx, p); err != nil {
			return err
		}
	}
	return s.SendComplete(ctx)
}

func (w *Worker) systemTime(ctx context.Context, s *session.Server, params []osrfmsg.Value) error {
	v, err := osrfmsg.NewValue(time.Now().Unix())
	if err != nil {
		return err
	}
	return s.RespondComplete(ctx, v)
}

type methodSummary struct {
	Name    string `json:"api_name"`
	Arity   string `json:"arity"`
	Summary string `json:"summary,omitempty"`
}

func (w *Worker) methodAll(withSummary bool) HandlerFunc {
	return func(ctx context.Context, s *session.Server, params []osrfmsg.Value) error {
		var prefix string
		if len(params) == 1 {
			_ = params[0].Decode(&prefix)
		}

		names := make([]string, 0, len(w.handlers))
		for name := range w.handlers {
			if prefix == "" || strings.HasPrefix(name, prefix) {
				names = append(names, name)
			}
		}
		sort.Strings(names)

		if !withSummary {
			v, err := osrfmsg.NewValue(names)
			if err != nil {
				return err
			}
			return s.RespondComplete(ctx, v)
		}

		summaries := make([]methodSummary, 0, len(names))
		for _, name := range names {
			reg := w.handlers[name]
			summaries = append(summaries, methodSummary{
				Name:    name,
				Arity:   reg.Arity.String(),
				Summary: reg.Summary,
			})
		}
		v, err := osrfmsg.NewValue(summaries)
		if err != nil {
			return err
		}
		return s.RespondComplete(ctx, v)
	}
}
