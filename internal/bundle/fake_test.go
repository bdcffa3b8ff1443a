package bundle

import (
	"context"
	"fmt"
	"slices"
	gosync "sync"

	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/source"
)

type modifyCall struct {
	ids    []string
	add    []string
	remove []string
}

type fakeLabels struct {
	mu      gosync.Mutex
	labels  []source.Label
	filters []source.Filter
	nextID  int

	createLabelErr  error
	modifyErr       func(add, remove []string) error
	createFilterErr error
	block           chan struct{}

	listLabelCalls   int
	createLabelCalls int
	listFilterCalls  int
	createFilters    []source.Filter
	deletedFilters   []string
	modifyCalls      []modifyCall
}

func (f *fakeLabels) ListLabels(context.Context, *model.Account) ([]source.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listLabelCalls++
	return slices.Clone(f.labels), nil
}

func (f *fakeLabels) CreateLabel(_ context.Context, _ *model.Account, name string) (source.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createLabelCalls++
	if f.createLabelErr != nil {
		return source.Label{}, f.createLabelErr
	}
	f.nextID++
	l := source.Label{ID: fmt.Sprintf("Label_%d", f.nextID), Name: name}
	f.labels = append(f.labels, l)
	return l, nil
}

func (f *fakeLabels) MessageLabels(context.Context, *model.Account, []string) (map[string][]string, error) {
	return map[string][]string{}, nil
}

func (f *fakeLabels) ListFilters(context.Context, *model.Account) ([]source.Filter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listFilterCalls++
	return slices.Clone(f.filters), nil
}

func (f *fakeLabels) CreateFilter(
	_ context.Context,
	_ *model.Account,
	criteria source.FilterCriteria,
	action source.FilterAction,
) (source.Filter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createFilterErr != nil {
		return source.Filter{}, f.createFilterErr
	}
	f.nextID++
	filter := source.Filter{ID: fmt.Sprintf("filter_%d", f.nextID), Criteria: criteria, Action: action}
	f.createFilters = append(f.createFilters, filter)
	f.filters = append(f.filters, filter)
	return filter, nil
}

func (f *fakeLabels) DeleteFilter(_ context.Context, _ *model.Account, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedFilters = append(f.deletedFilters, id)
	f.filters = slices.DeleteFunc(f.filters, func(x source.Filter) bool { return x.ID == id })
	return nil
}

func (f *fakeLabels) ModifyLabels(
	ctx context.Context,
	_ *model.Account,
	messageIDs []string,
	add, remove []string,
) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.modifyCalls = append(f.modifyCalls, modifyCall{ids: messageIDs, add: add, remove: remove})
	if f.modifyErr != nil {
		return f.modifyErr(add, remove)
	}
	return nil
}

func (f *fakeLabels) calls() []modifyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.modifyCalls)
}
