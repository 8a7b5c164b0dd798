package steps

import (
	"context"
	"errors"

	"github.com/cucumber/godog"
	"github.com/rs/zerolog/log"

	"github.com/tomatool/todospec/internal/runlog"
	"github.com/tomatool/todospec/internal/world"
)

// HomeTag marks scenarios that start from a freshly loaded, empty app
const HomeTag = "@home"

// MediaTypePNG is the media type of failure screenshots
const MediaTypePNG = "image/png"

// Failed reports whether a scenario error means the scenario failed, as
// opposed to being skipped, pending or undefined
func Failed(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, godog.ErrSkip) &&
		!errors.Is(err, godog.ErrPending) &&
		!errors.Is(err, godog.ErrUndefined)
}

func hasTag(sc *godog.Scenario, tag string) bool {
	for _, t := range sc.Tags {
		if t.Name == tag {
			return true
		}
	}
	return false
}

// registerHooks sets up before/after hooks on the scenario context
func (s *Steps) registerHooks(ctx ScenarioContext) {
	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		w := world.New(s.opts.Attach, s.opts.Parameters, s.home)
		w.Capability = s.opts.Capability
		w.Scenario = sc.Name
		return world.NewContext(ctx, w), nil
	})

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		if s.opts.Skip != nil && s.opts.Skip(sc) {
			log.Info().Str("capability", s.opts.Capability).Str("scenario", sc.Name).Msg("skipping scenario (doesn't match filter)")
			return ctx, godog.ErrSkip
		}
		if !hasTag(sc, HomeTag) {
			return ctx, nil
		}
		w, err := world.FromContext(ctx)
		if err != nil {
			return ctx, err
		}

		// Step hooks have not run yet, so the step deadline does not cover the reset
		resetCtx := ctx
		if s.opts.StepTimeout > 0 {
			var cancel context.CancelFunc
			resetCtx, cancel = context.WithTimeout(ctx, s.opts.StepTimeout)
			defer cancel()
		}

		log.Debug().Str("capability", s.opts.Capability).Str("scenario", sc.Name).Msg("resetting app")
		if err := s.home.Get(resetCtx); err != nil {
			return ctx, err
		}
		if err := w.ClearLocalStorage(resetCtx); err != nil {
			return ctx, err
		}
		if err := s.home.Get(resetCtx); err != nil {
			return ctx, err
		}
		return ctx, nil
	})

	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if !Failed(err) {
			return ctx, nil
		}
		w, werr := world.FromContext(ctx)
		if werr != nil {
			log.Warn().Err(werr).Str("scenario", sc.Name).Msg("no world to attach screenshot to")
			return ctx, nil
		}

		shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Settle.Timeout)
		defer cancel()

		png, shotErr := s.home.Screenshot(shotCtx)
		if shotErr != nil {
			log.Warn().Err(shotErr).Str("scenario", sc.Name).Msg("failed to capture screenshot")
			return ctx, nil
		}
		if attErr := w.AttachArtifact(shotCtx, png, MediaTypePNG); attErr != nil {
			log.Warn().Err(attErr).Str("scenario", sc.Name).Msg("failed to store screenshot")
		}

		ctx = godog.Attach(ctx, godog.Attachment{
			Body:      png,
			FileName:  runlog.Slug(sc.Name) + ".png",
			MediaType: MediaTypePNG,
		})
		return ctx, nil
	})
}

type stepDeadline struct {
	parent context.Context
	cancel context.CancelFunc
}

type stepDeadlineKey struct{}

// registerDeadlines bounds every step by the step timeout. The After hook
// hands the undecorated context on so the next step starts fresh.
func (s *Steps) registerDeadlines(ctx godog.StepContext) {
	if s.opts.StepTimeout <= 0 {
		return
	}

	ctx.Before(func(ctx context.Context, st *godog.Step) (context.Context, error) {
		stepCtx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
		return context.WithValue(stepCtx, stepDeadlineKey{}, &stepDeadline{parent: ctx, cancel: cancel}), nil
	})

	ctx.After(func(ctx context.Context, st *godog.Step, status godog.StepResultStatus, err error) (context.Context, error) {
		d, ok := ctx.Value(stepDeadlineKey{}).(*stepDeadline)
		if !ok {
			return ctx, nil
		}
		d.cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			log.Debug().Str("step", st.Text).Dur("timeout", s.opts.StepTimeout).Msg("step timed out")
		}
		return d.parent, nil
	})
}
