package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod/lib/proto"
)

// Invoker clicks the element a tool is bound to. It satisfies navigation.Invoker.
type Invoker struct {
	binder *Binder
}

func NewInvoker(binder *Binder) *Invoker {
	return &Invoker{binder: binder}
}

// Invoke clicks the bound element. A "selector" parameter overrides the bound selector for
// tools whose action lives on a child element.
func (i *Invoker) Invoke(ctx context.Context, toolID string, params map[string]any) error {
	binding, ok := i.binder.Lookup(toolID)
	if !ok {
		return fmt.Errorf("invoke %s: %w", toolID, ErrUnbound)
	}
	page, ok := i.binder.sessions.Page(binding.SessionID)
	if !ok {
		return fmt.Errorf("invoke %s: %w: %s", toolID, ErrUnknownSession, binding.SessionID)
	}

	selector := binding.Selector
	if s, ok := params["selector"].(string); ok && s != "" {
		selector = s
	}

	el, err := page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("invoke %s: element %q: %w", toolID, selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("invoke %s: click: %w", toolID, err)
	}
	return nil
}
