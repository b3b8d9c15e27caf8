package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	enrich "github.com/sells-group/leadflow/internal/enrich"
	model "github.com/sells-group/leadflow/internal/model"
)

// MockDiscoverer is a mock type for the Discoverer interface.
type MockDiscoverer struct {
	mock.Mock
}

// Discover provides a mock function with given fields: ctx, rec
func (_m *MockDiscoverer) Discover(ctx context.Context, rec model.Record) (enrich.DiscoverResult, error) {
	ret := _m.Called(ctx, rec)

	if len(ret) == 0 {
		panic("no return value specified for Discover")
	}

	var r0 enrich.DiscoverResult
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, model.Record) (enrich.DiscoverResult, error)); ok {
		return rf(ctx, rec)
	}
	if rf, ok := ret.Get(0).(func(context.Context, model.Record) enrich.DiscoverResult); ok {
		r0 = rf(ctx, rec)
	} else {
		r0 = ret.Get(0).(enrich.DiscoverResult)
	}

	if rf, ok := ret.Get(1).(func(context.Context, model.Record) error); ok {
		r1 = rf(ctx, rec)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockDiscoverer creates a new instance of MockDiscoverer.
func NewMockDiscoverer(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockDiscoverer {
	mock := &MockDiscoverer{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
