// Package mocks provides test doubles for the enrich adapters.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	model "github.com/sells-group/leadflow/internal/model"
)

// MockClassifier is a mock type for the Classifier interface.
type MockClassifier struct {
	mock.Mock
}

// Classify provides a mock function with given fields: ctx, rec
func (_m *MockClassifier) Classify(ctx context.Context, rec model.Record) (model.Classification, error) {
	ret := _m.Called(ctx, rec)

	if len(ret) == 0 {
		panic("no return value specified for Classify")
	}

	var r0 model.Classification
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, model.Record) (model.Classification, error)); ok {
		return rf(ctx, rec)
	}
	if rf, ok := ret.Get(0).(func(context.Context, model.Record) model.Classification); ok {
		r0 = rf(ctx, rec)
	} else {
		r0 = ret.Get(0).(model.Classification)
	}

	if rf, ok := ret.Get(1).(func(context.Context, model.Record) error); ok {
		r1 = rf(ctx, rec)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClassifier creates a new instance of MockClassifier.
func NewMockClassifier(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClassifier {
	mock := &MockClassifier{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
