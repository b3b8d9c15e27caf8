package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	model "github.com/sells-group/leadflow/internal/model"
)

// MockVerifier is a mock type for the Verifier interface.
type MockVerifier struct {
	mock.Mock
}

// Verify provides a mock function with given fields: ctx, address
func (_m *MockVerifier) Verify(ctx context.Context, address string) (model.Verification, error) {
	ret := _m.Called(ctx, address)

	if len(ret) == 0 {
		panic("no return value specified for Verify")
	}

	var r0 model.Verification
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (model.Verification, error)); ok {
		return rf(ctx, address)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) model.Verification); ok {
		r0 = rf(ctx, address)
	} else {
		r0 = ret.Get(0).(model.Verification)
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, address)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockVerifier creates a new instance of MockVerifier.
func NewMockVerifier(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockVerifier {
	mock := &MockVerifier{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
