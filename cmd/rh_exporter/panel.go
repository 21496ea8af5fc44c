package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/cdpcontrol"
)

// panelSync pushes panel updates from a single goroutine. Only the newest
// pending state is kept, so a slow page never backs up the pipeline.
type panelSync struct {
	control *cdpcontrol.Client
	timeout time.Duration
	latest  chan cdpcontrol.PanelState
	done    chan struct{}
}

func newPanelSync(control *cdpcontrol.Client, timeout time.Duration) *panelSync {
	p := &panelSync{
		control: control,
		timeout: timeout,
		latest:  make(chan cdpcontrol.PanelState, 1),
		done:    make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *panelSync) push(st cdpcontrol.PanelState) {
	for {
		select {
		case p.latest <- st:
			return
		default:
		}
		select {
		case <-p.latest:
		default:
		}
	}
}

func (p *panelSync) loop() {
	for {
		select {
		case <-p.done:
			return
		case st := <-p.latest:
			ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
			if err := p.control.UpdatePanel(ctx, st); err != nil {
				slog.Debug("panel update failed", "error", err)
			}
			cancel()
		}
	}
}

func (p *panelSync) stop() {
	close(p.done)
}
