package strategy

import (
	"reflect"

	"go.uber.org/mock/gomock"
)

// MockStrategy is a hand-written stand-in for what mockgen would generate
// from the Strategy interface, used by the delegation contract tests in
// fair_mock_test.go.
type MockStrategy struct {
	ctrl     *gomock.Controller
	recorder *MockStrategyMockRecorder
}

type MockStrategyMockRecorder struct {
	mock *MockStrategy
}

func NewMockStrategy(ctrl *gomock.Controller) *MockStrategy {
	mock := &MockStrategy{ctrl: ctrl}
	mock.recorder = &MockStrategyMockRecorder{mock}
	return mock
}

func (m *MockStrategy) EXPECT() *MockStrategyMockRecorder {
	return m.recorder
}

func (m *MockStrategy) Name() string {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Name")
	ret0, _ := ret[0].(string)
	return ret0
}

func (mr *MockStrategyMockRecorder) Name() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Name", reflect.TypeOf((*MockStrategy)(nil).Name))
}

func (m *MockStrategy) NextOperation(history History, enabled []Enabled) OpID {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "NextOperation", history, enabled)
	ret0, _ := ret[0].(OpID)
	return ret0
}

func (mr *MockStrategyMockRecorder) NextOperation(history, enabled interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "NextOperation", reflect.TypeOf((*MockStrategy)(nil).NextOperation), history, enabled)
}

func (m *MockStrategy) NextBoolean(history History) bool {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "NextBoolean", history)
	ret0, _ := ret[0].(bool)
	return ret0
}

func (mr *MockStrategyMockRecorder) NextBoolean(history interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "NextBoolean", reflect.TypeOf((*MockStrategy)(nil).NextBoolean), history)
}

func (m *MockStrategy) NextInteger(history History, max int) int {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "NextInteger", history, max)
	ret0, _ := ret[0].(int)
	return ret0
}

func (mr *MockStrategyMockRecorder) NextInteger(history, max interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "NextInteger", reflect.TypeOf((*MockStrategy)(nil).NextInteger), history, max)
}

func (m *MockStrategy) PrepareNextIteration() bool {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "PrepareNextIteration")
	ret0, _ := ret[0].(bool)
	return ret0
}

func (mr *MockStrategyMockRecorder) PrepareNextIteration() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "PrepareNextIteration", reflect.TypeOf((*MockStrategy)(nil).PrepareNextIteration))
}

func (m *MockStrategy) IsFair() bool {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "IsFair")
	ret0, _ := ret[0].(bool)
	return ret0
}

func (mr *MockStrategyMockRecorder) IsFair() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "IsFair", reflect.TypeOf((*MockStrategy)(nil).IsFair))
}
