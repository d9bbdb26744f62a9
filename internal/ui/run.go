package ui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lance13c/uimap/internal/discovery"
	"github.com/lance13c/uimap/internal/types"
)

// RunCapture drives mc under the capture view until the operator finishes
// or ctx ends
func RunCapture(ctx context.Context, mc *discovery.ManualCapture, startURL string) (*types.Discovery, error) {
	model := NewModel(startURL)
	p := tea.NewProgram(model, tea.WithContext(ctx))

	mc.Stop = model.Stop()
	mc.OnEntry = func(e types.ClickLogEntry) { p.Send(EntryMsg(e)) }

	go func() {
		result, err := mc.Run(ctx, startURL)
		p.Send(DoneMsg{Result: result, Err: err})
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("capture view failed: %w", err)
	}
	return model.Result()
}
