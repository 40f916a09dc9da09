//
//  Copyright © Manetu Inc. All rights reserved.
//

package action

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/polkit-go/polkitd/pkg/polkit/common"
)

// maxNestingDepth is the maximum XML element nesting depth a policy file
// may use before the parser rejects it wholesale, per spec §4.2.
const maxNestingDepth = 32

// element is a stack frame tracked by the state-machine parser.
type element struct {
	name  string
	attrs map[string]string
	text  strings.Builder

	// action-in-progress fields, only meaningful when name == "action"
	action *building

	// defaults-in-progress field name ("allow_any" etc.), only meaningful
	// when the parent is <defaults>
}

type building struct {
	id          string
	vendor      string
	vendorURL   string
	iconName    string
	descByLang  map[string]string
	msgByLang   map[string]string
	annotations map[string]string
	defaults    Triple
	haveDefault bool
	invalid     bool
	invalidErr  error
}

// parseResult is the outcome of parsing a single .policy file.
type parseResult struct {
	globalVendor    string
	globalVendorURL string
	globalIconName  string
	actions         []*building
}

// parsePolicyFile runs a depth-bounded state-machine XML parser over r,
// skipping unknown tags with a warning rather than rejecting the file,
// and isolating a malformed <action> to that action alone (spec §8
// boundary case, taking the "clean redesign" per spec §9's open question:
// a bad <action> is skipped, other actions in the same file still load).
func parsePolicyFile(r io.Reader, onWarn func(msg string)) (*parseResult, error) {
	dec := xml.NewDecoder(r)

	result := &parseResult{}
	var stack []*element
	var curAction *building

	warn := func(msg string) {
		if onWarn != nil {
			onWarn(msg)
		}
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, common.Wrap(err, common.ErrPolicyFileInvalid, "xml parse error")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) >= maxNestingDepth {
				return nil, common.Newf(common.ErrPolicyFileInvalid, "nesting depth exceeds %d", maxNestingDepth)
			}

			attrs := map[string]string{}
			for _, a := range t.Attr {
				if a.Name.Local == "lang" {
					attrs["lang"] = a.Value
					continue
				}
				attrs[a.Name.Local] = a.Value
			}

			el := &element{name: t.Name.Local, attrs: attrs}
			stack = append(stack, el)

			switch t.Name.Local {
			case "policyconfig":
				// root; nothing to do
			case "action":
				id := attrs["id"]
				curAction = &building{
					id:          id,
					descByLang:  map[string]string{},
					msgByLang:   map[string]string{},
					annotations: map[string]string{},
				}
				if !ValidID(id) {
					curAction.invalid = true
					curAction.invalidErr = common.Newf(common.ErrPolicyFileInvalid, "invalid action id %q", id)
				}
				el.action = curAction
			case "description", "message", "vendor", "vendor_url", "icon_name",
				"defaults", "allow_any", "allow_inactive", "allow_active", "annotate":
				// handled on EndElement using accumulated text
			default:
				warn("skipping unknown element <" + t.Name.Local + ">")
			}

		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}

		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			el := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			text := strings.TrimSpace(el.text.String())

			switch el.name {
			case "action":
				if curAction != nil {
					if curAction.invalid {
						warn("dropping invalid action " + curAction.id + ": " + curAction.invalidErr.Error())
					} else {
						result.actions = append(result.actions, curAction)
					}
				}
				curAction = nil

			case "vendor":
				if curAction != nil {
					curAction.vendor = text
				} else {
					result.globalVendor = text
				}
			case "vendor_url":
				if curAction != nil {
					curAction.vendorURL = text
				} else {
					result.globalVendorURL = text
				}
			case "icon_name":
				if err := validateIconName(text); err != nil {
					if curAction != nil {
						curAction.invalid = true
						curAction.invalidErr = err
					} else {
						warn(err.Error())
					}
					continue
				}
				if curAction != nil {
					curAction.iconName = text
				} else {
					result.globalIconName = text
				}

			case "description":
				if curAction != nil {
					curAction.descByLang[el.attrs["lang"]] = text
				}
			case "message":
				if curAction != nil {
					curAction.msgByLang[el.attrs["lang"]] = text
				}
			case "annotate":
				if curAction != nil {
					key := el.attrs["key"]
					if key != "" {
						curAction.annotations[key] = text
					}
				}

			case "allow_any", "allow_inactive", "allow_active":
				if curAction == nil {
					continue
				}
				v, err := ParseImplicit(text)
				if err != nil {
					curAction.invalid = true
					curAction.invalidErr = err
					continue
				}
				curAction.haveDefault = true
				switch el.name {
				case "allow_any":
					curAction.defaults.AllowAny = v
				case "allow_inactive":
					curAction.defaults.AllowInactive = v
				case "allow_active":
					curAction.defaults.AllowActive = v
				}

			case "defaults", "policyconfig":
				// nothing extra
			}
		}
	}

	// Empty/missing <defaults> children default to not-authorized (spec §4.2).
	for _, a := range result.actions {
		if a.defaults.AllowAny == "" {
			a.defaults.AllowAny = ImplicitNotAuthorized
		}
		if a.defaults.AllowInactive == "" {
			a.defaults.AllowInactive = ImplicitNotAuthorized
		}
		if a.defaults.AllowActive == "" {
			a.defaults.AllowActive = ImplicitNotAuthorized
		}
	}

	return result, nil
}

// validateIconName rejects icon names containing path separators or an
// image-file suffix, per spec §4.2/§6.
func validateIconName(name string) error {
	if name == "" {
		return nil
	}
	if strings.ContainsAny(name, "/\\") {
		return common.Newf(common.ErrPolicyFileInvalid, "icon_name %q must not contain path separators", name)
	}
	lower := strings.ToLower(name)
	for _, suffix := range []string{".png", ".jpg", ".jpeg", ".svg", ".xpm"} {
		if strings.HasSuffix(lower, suffix) {
			return common.Newf(common.ErrPolicyFileInvalid, "icon_name %q must not include an image suffix", name)
		}
	}
	return nil
}
