//
//  Copyright © Manetu Inc. All rights reserved.
//

package ruleshost

import (
	"context"
	"os"
	"strconv"

	"github.com/dop251/goja"
)

func readRuleFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// initScript wires the internal rule-list bookkeeping the rest of the API
// relies on: _rules and _adminRules accumulate registrations in the order
// addRule/addAdminRule are called; _runRules/_runAdminRules iterate them
// LIFO (latest registration wins), and _deleteRules clears both, per
// spec §4.3 "Evaluation semantics" / "Reload atomicity".
const initScript = `
var _rules = [];
var _adminRules = [];

function Subject(fields) {
    this.pid = fields.pid;
    this.user = fields.user;
    this.groups = fields.groups;
    this.seat = fields.seat;
    this.session = fields.session;
    this.system_unit = fields.system_unit;
    this.no_new_privileges = fields.no_new_privileges;
    this.local = fields.local;
    this.active = fields.active;
    this.isInGroup = function(name) {
        for (var i = 0; i < this.groups.length; i++) {
            if (this.groups[i] === name) return true;
        }
        return false;
    };
}

function Action(fields) {
    this.id = fields.id;
    for (var key in fields.details) {
        this["_detail_" + key] = fields.details[key];
    }
}

var polkit = {
    addRule: function(fn) { _rules.push(fn); },
    addAdminRule: function(fn) { _adminRules.push(fn); },
    log: function(msg) { _polkit_log(msg); },
    spawn: function(argv) { return _polkit_spawn(argv); },
    _userIsInNetGroup: function(user, netgroup) { return _polkit_userIsInNetGroup(user, netgroup); }
};

function _runRules(action, subject) {
    for (var i = _rules.length - 1; i >= 0; i--) {
        var result = _rules[i](action, subject);
        if (result) return result;
    }
    return null;
}

function _runAdminRules(action, subject) {
    for (var i = _adminRules.length - 1; i >= 0; i--) {
        var result = _adminRules[i](action, subject);
        if (result) return result;
    }
    return null;
}

function _deleteRules() {
    _rules = [];
    _adminRules = [];
}
`

// install binds the fixed host API surface (spec §4.3) into vm and runs
// the init script that builds Subject/Action and the _run*/_deleteRules
// plumbing on top of it.
func (h *Host) install(vm *goja.Runtime) error {
	if err := vm.Set("_polkit_log", func(msg string) {
		logger.Infof(agent, "polkit.log", "%s", msg)
	}); err != nil {
		return err
	}

	if err := vm.Set("_polkit_spawn", func(call goja.FunctionCall) goja.Value {
		argv := toStringSlice(call.Argument(0))
		out, err := h.Spawn(context.Background(), argv)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(out)
	}); err != nil {
		return err
	}

	if err := vm.Set("_polkit_userIsInNetGroup", func(user, netgroup string) bool {
		if !h.opts.NetgroupSupported || h.opts.Passwd == nil {
			return false
		}
		ok, err := h.opts.Passwd.IsInNetgroup(user, netgroup)
		if err != nil {
			return false
		}
		return ok
	}); err != nil {
		return err
	}

	_, err := vm.RunScript("<init>", initScript)
	return err
}

func toStringSlice(v goja.Value) []string {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	length := obj.Get("length")
	if length == nil {
		return nil
	}
	n := int(length.ToInteger())
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, obj.Get(strconv.Itoa(i)).String())
	}
	return out
}

// subjectFields converts a [SubjectView] into the plain map Subject's
// constructor expects, matching the field names documented in spec §4.3.
func subjectFields(v SubjectView) map[string]interface{} {
	fields := map[string]interface{}{
		"pid":               v.PID,
		"user":              v.User,
		"groups":            v.Groups,
		"seat":              v.Seat,
		"session":           v.Session,
		"no_new_privileges": v.NoNewPrivileges,
		"local":             v.Local,
		"active":            v.Active,
	}
	if v.HaveSystemUnit {
		fields["system_unit"] = v.SystemUnit
	}
	return fields
}

// actionFields converts an action id and its request details into the
// plain map Action's constructor expects.
func actionFields(id string, details map[string]string) map[string]interface{} {
	return map[string]interface{}{
		"id":      id,
		"details": details,
	}
}
