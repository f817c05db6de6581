package auth

import (
	"context"
	"errors"
	"sort"
)

// Filter is one stage of the login pipeline. It receives the result of the
// previous stages and returns the result to hand on.
type Filter interface {
	Authenticate(ctx context.Context, candidate Result, login, password string) Result
}

type FilterFunc func(ctx context.Context, candidate Result, login, password string) Result

func (f FilterFunc) Authenticate(ctx context.Context, candidate Result, login, password string) Result {
	return f(ctx, candidate, login, password)
}

// LogoutHook runs when a user ends a session.
type LogoutHook interface {
	OnLogout(ctx context.Context, userID string) error
}

type LogoutHookFunc func(ctx context.Context, userID string) error

func (f LogoutHookFunc) OnLogout(ctx context.Context, userID string) error {
	return f(ctx, userID)
}

type registeredFilter struct {
	priority int
	filter   Filter
}

type registeredHook struct {
	priority int
	hook     LogoutHook
}

// Pipeline runs filters and logout hooks in ascending priority. Entries with
// the same priority run in registration order.
type Pipeline struct {
	filters []registeredFilter
	hooks   []registeredHook
}

func NewPipeline() *Pipeline {
	return &Pipeline{}
}

func (p *Pipeline) AddFilter(priority int, filter Filter) {
	p.filters = append(p.filters, registeredFilter{priority: priority, filter: filter})
	sort.SliceStable(p.filters, func(i, j int) bool {
		return p.filters[i].priority < p.filters[j].priority
	})
}

func (p *Pipeline) AddLogoutHook(priority int, hook LogoutHook) {
	p.hooks = append(p.hooks, registeredHook{priority: priority, hook: hook})
	sort.SliceStable(p.hooks, func(i, j int) bool {
		return p.hooks[i].priority < p.hooks[j].priority
	})
}

func (p *Pipeline) Authenticate(ctx context.Context, login, password string) Result {
	var result Result
	for _, entry := range p.filters {
		result = entry.filter.Authenticate(ctx, result, login, password)
	}
	return result
}

// Logout runs every hook even when an earlier one fails.
func (p *Pipeline) Logout(ctx context.Context, userID string) error {
	var errs []error
	for _, entry := range p.hooks {
		if err := entry.hook.OnLogout(ctx, userID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
