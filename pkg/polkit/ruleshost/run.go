//
//  Copyright © Manetu Inc. All rights reserved.
//

package ruleshost

import (
	"strings"

	"github.com/dop251/goja"
	"github.com/polkit-go/polkitd/pkg/polkit/action"
	"github.com/polkit-go/polkitd/pkg/polkit/common"
)

// RunRules invokes _runRules(action, subject) under the runaway-killer
// budget. An empty Implicit with ok=false means "rules contributed
// nothing, fall through to implicit defaults" (spec §4.7 step 3/step 5).
// A thrown exception or a return value outside the ImplicitAuthorization
// set yields ImplicitNotAuthorized with ok=true. A timeout is returned as
// a TimedOut error, which the caller also treats as not-authorized, per
// spec §4.3 "Failure semantics". The Host's mutex is held for the whole
// evaluation.
func (h *Host) RunRules(id string, details map[string]string, subj SubjectView) (action.Implicit, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	vm := h.vm

	var result goja.Value
	err := h.runWithBudget(vm, func() (goja.Value, error) {
		fn, ok := goja.AssertFunction(vm.Get("_runRules"))
		if !ok {
			return nil, common.New(common.ErrInternal, "_runRules is not callable")
		}
		actionVal, callErr := newAction(vm, id, details)
		if callErr != nil {
			return nil, callErr
		}
		subjectVal, callErr := newSubject(vm, subj)
		if callErr != nil {
			return nil, callErr
		}
		v, callErr := fn(goja.Undefined(), actionVal, subjectVal)
		result = v
		return v, callErr
	})

	if err != nil {
		if common.Is(err, common.ErrTimedOut) {
			return "", false, err
		}
		logger.Warnf(agent, "RunRules", "rule evaluation failed, treating as not-authorized: %+v", err)
		return action.ImplicitNotAuthorized, true, nil
	}

	if result == nil || goja.IsNull(result) || goja.IsUndefined(result) {
		return "", false, nil
	}

	token := result.String()
	v, perr := action.ParseImplicit(token)
	if perr != nil {
		logger.Warnf(agent, "RunRules", "rule returned value outside ImplicitAuthorization set (%q), treating as not-authorized", token)
		return action.ImplicitNotAuthorized, true, nil
	}
	return v, true, nil
}

// RunAdminRules invokes _runAdminRules(action, subject), returning the
// comma-joined identity tokens as a slice. An empty result (no rule
// matched) means the authority should fall back to unix-user:0, per
// spec §4.3.
func (h *Host) RunAdminRules(id string, details map[string]string, subj SubjectView) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	vm := h.vm

	var result goja.Value
	err := h.runWithBudget(vm, func() (goja.Value, error) {
		fn, ok := goja.AssertFunction(vm.Get("_runAdminRules"))
		if !ok {
			return nil, common.New(common.ErrInternal, "_runAdminRules is not callable")
		}
		actionVal, callErr := newAction(vm, id, details)
		if callErr != nil {
			return nil, callErr
		}
		subjectVal, callErr := newSubject(vm, subj)
		if callErr != nil {
			return nil, callErr
		}
		v, callErr := fn(goja.Undefined(), actionVal, subjectVal)
		result = v
		return v, callErr
	})

	if err != nil {
		if common.Is(err, common.ErrTimedOut) {
			return nil, err
		}
		logger.Warnf(agent, "RunAdminRules", "admin rule evaluation failed, falling back to unix-user:0: %+v", err)
		return nil, nil
	}

	if result == nil || goja.IsNull(result) || goja.IsUndefined(result) {
		return nil, nil
	}

	parts := strings.Split(result.String(), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func newSubject(vm *goja.Runtime, subj SubjectView) (goja.Value, error) {
	ctor := vm.Get("Subject")
	if ctor == nil {
		return nil, common.New(common.ErrInternal, "Subject constructor missing")
	}
	obj, err := vm.New(ctor, vm.ToValue(subjectFields(subj)))
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func newAction(vm *goja.Runtime, id string, details map[string]string) (goja.Value, error) {
	ctor := vm.Get("Action")
	if ctor == nil {
		return nil, common.New(common.ErrInternal, "Action constructor missing")
	}
	obj, err := vm.New(ctor, vm.ToValue(actionFields(id, details)))
	if err != nil {
		return nil, err
	}
	return obj, nil
}
