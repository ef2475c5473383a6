package sweep

import (
	"reflect"
	"runtime/debug"
	"strings"
	"sync"
)

// Policy decides which named types a sweep does not descend into.
//
// Instances of a stopped type are still visited and handed to the Task; only
// their fields are skipped, and a stopped embedded ancestor ends the walk up
// the type's ancestry. Allow wins over every stop rule.
type Policy struct {
	// StopStdlib stops at types declared in the standard library.
	StopStdlib bool `json:"stopStdlib" yaml:"stopStdlib"`
	// StopPackages lists import paths; subpackages are included.
	StopPackages []string `json:"stopPackages" yaml:"stopPackages"`
	// StopTypes lists qualified type names such as "net/http.Client".
	StopTypes []string `json:"stopTypes" yaml:"stopTypes"`
	// AllowTypes lists qualified type names that are always descended into.
	AllowTypes []string `json:"allowTypes" yaml:"allowTypes"`
}

// DefaultPolicy stops at standard library types.
func DefaultPolicy() Policy {
	return Policy{StopStdlib: true}
}

// With returns a copy of p that also stops at the given types.
func (p Policy) With(types ...reflect.Type) Policy {
	next := p
	next.StopTypes = append([]string(nil), p.StopTypes...)
	for _, t := range types {
		if name := QualifiedName(t); name != "" {
			next.StopTypes = append(next.StopTypes, name)
		}
	}
	return next
}

// Stops reports whether a sweep skips the fields of t.
func (p Policy) Stops(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	pkg := t.PkgPath()
	if pkg == "" || t.Name() == "" {
		return false
	}
	name := pkg + "." + t.Name()
	if contains(p.AllowTypes, name) {
		return false
	}
	if contains(p.StopTypes, name) {
		return true
	}
	for _, stop := range p.StopPackages {
		if pkg == stop || strings.HasPrefix(pkg, stop+"/") {
			return true
		}
	}
	return p.StopStdlib && isStdlib(pkg)
}

// QualifiedName is the "import/path.Name" form used by Policy.
// Unnamed types yield "".
func QualifiedName(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" || t.Name() == "" {
		return ""
	}
	return t.PkgPath() + "." + t.Name()
}

// buildModules lists the main module and every dependency module of the
// running binary.
var buildModules = sync.OnceValue(func() []string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	mods := make([]string, 0, len(info.Deps)+1)
	if info.Main.Path != "" {
		mods = append(mods, info.Main.Path)
	}
	for _, dep := range info.Deps {
		if dep != nil && dep.Path != "" {
			mods = append(mods, dep.Path)
		}
	}
	return mods
})

func isStdlib(pkg string) bool {
	return isStdlibIn(pkg, buildModules())
}

// isStdlibIn reports whether pkg belongs to none of modules and looks like a
// standard library path. Module paths need no dot, so membership is checked
// first.
func isStdlibIn(pkg string, modules []string) bool {
	if pkg == "main" {
		return false
	}
	for _, mod := range modules {
		if pkg == mod || strings.HasPrefix(pkg, mod+"/") {
			return false
		}
	}
	first, _, _ := strings.Cut(pkg, "/")
	return !strings.Contains(first, ".")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
