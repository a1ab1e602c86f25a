package vfs

import (
	"fmt"
	"reflect"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/objectfs/internal/logger"
)

// Fixed entries of a call directory.
const (
	callEntry    = "call"
	contextEntry = "context"
	codeEntry    = "code"
)

// FuncNode observes a callable member as a directory:
//
//	call     write YAML arguments, commit to invoke, read the result
//	context  one result file per completed invocation
//	code     the function's runtime name and signature
//
// A root FuncNode carries the function itself; one materialized for a
// method re-resolves through its parent on every call, so a rebound member
// is never invoked through a stale receiver.
type FuncNode struct {
	inode

	root bool
	fn   any
	cfg  *ExportConfig
}

func newFuncNode(name string, cfg *ExportConfig) *FuncNode {
	n := &FuncNode{cfg: cfg}
	n.inode = *newInode(name, ModeDir|0o755)
	return n
}

// buildLocked attaches the fixed children. Called right after the FuncNode
// itself is linked. Lock held.
func (f *FuncNode) buildLocked(s *Storage) {
	call := &CallNode{owner: f}
	call.inode = *newInode(callEntry, 0o644)

	contextDir := newInode(contextEntry, ModeDir|0o755)

	code := &CodeNode{owner: f}
	code.inode = *newInode(codeEntry, 0o444)

	for _, child := range []Node{call, contextDir, code} {
		if err := s.attachLocked(f, child); err != nil {
			logger.Warn("call directory %s: %v", f.absolutePath(), err)
		}
	}
	code.refresh()
}

// resolveFunc returns the callable this directory fronts.
func (f *FuncNode) resolveFunc() (reflect.Value, bool) {
	if f.root {
		rv := reflect.ValueOf(f.fn)
		return rv, rv.IsValid() && rv.Kind() == reflect.Func && !rv.IsNil()
	}
	parent, ok := f.parent.(*ObjectNode)
	if !ok {
		return reflect.Value{}, false
	}
	pv, ok := parent.observeValue()
	if !ok {
		return reflect.Value{}, false
	}
	mv, ok := getMember(pv, f.name, f.cfg)
	if !ok || !isFunc(mv) {
		return reflect.Value{}, false
	}
	return reflect.ValueOf(mv), true
}

// CallNode is the invocation file of a call directory. Writing arguments
// and committing runs the function; the result replaces the file content
// and is archived in the context directory.
type CallNode struct {
	inode
	owner *FuncNode
}

// Commit invokes the function with the buffered arguments. Invocation
// problems, bad arguments and panics included, are reported through the
// result text; the tree operation itself always succeeds.
//
// The function runs with the tree lock held and must not call back into
// the owning storage.
func (n *CallNode) Commit() error {
	result := n.owner.invoke(string(n.buf))
	n.setContent(result)
	n.archiveResultLocked(result)
	return nil
}

// archiveResultLocked drops a copy of the result into the context
// directory. Lock held.
func (n *CallNode) archiveResultLocked(result []byte) {
	owner := n.owner
	ctx, ok := owner.children[contextEntry]
	if !ok || !ctx.Inode().mode.IsDir() {
		return
	}
	entry := newInode("call-"+uuid.NewString(), 0o444)
	entry.buf = result
	if err := owner.storage.attachLocked(ctx, entry); err != nil {
		logger.Debug("archive under %s: %v", ctx.Inode().absolutePath(), err)
	}
}

// invoke parses YAML arguments, converts them to the function's parameter
// types, and calls it, turning every failure mode into result text.
func (f *FuncNode) invoke(argText string) []byte {
	fv, ok := f.resolveFunc()
	if !ok {
		return []byte("error: function is no longer available\n")
	}

	args, err := parseCallArgs(argText)
	if err != nil {
		return []byte(fmt.Sprintf("error: %v\n", err))
	}

	in, err := buildCallArgs(fv.Type(), args)
	if err != nil {
		return []byte(fmt.Sprintf("error: %v\n", err))
	}

	out, panicked := safeCall(fv, in)
	if panicked != nil {
		return []byte(fmt.Sprintf("panic: %v\n\n%s", panicked.value, panicked.stack))
	}
	return renderCallResult(out)
}

// parseCallArgs accepts three YAML shapes: a mapping with an "args"
// sequence, a bare sequence, or a single scalar. An empty document is a
// zero-argument call.
func parseCallArgs(text string) ([]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	var doc struct {
		Args []any `yaml:"args"`
	}
	if err := yaml.Unmarshal([]byte(text), &doc); err == nil && doc.Args != nil {
		return doc.Args, nil
	}

	var seq []any
	if err := yaml.Unmarshal([]byte(text), &seq); err == nil {
		return seq, nil
	}

	var one any
	if err := yaml.Unmarshal([]byte(text), &one); err != nil {
		return nil, fmt.Errorf("arguments are not valid YAML: %v", err)
	}
	if one == nil {
		return nil, nil
	}
	return []any{one}, nil
}

// buildCallArgs converts parsed arguments to the function's parameter
// types, spreading the tail over a variadic parameter.
func buildCallArgs(ft reflect.Type, args []any) ([]reflect.Value, error) {
	fixed := ft.NumIn()
	if ft.IsVariadic() {
		fixed--
		if len(args) < fixed {
			return nil, fmt.Errorf("want at least %d argument(s), got %d", fixed, len(args))
		}
	} else if len(args) != fixed {
		return nil, fmt.Errorf("want %d argument(s), got %d", fixed, len(args))
	}

	in := make([]reflect.Value, 0, len(args))
	for i, raw := range args {
		var pt reflect.Type
		if i < fixed {
			pt = ft.In(i)
		} else {
			pt = ft.In(ft.NumIn() - 1).Elem()
		}
		v, err := convertCallArg(pt, raw)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %v", i+1, err)
		}
		in = append(in, v)
	}
	return in, nil
}

// convertCallArg adapts one YAML-decoded value to a parameter type.
// Numeric widths adjust freely; mappings and sequences fill struct, map
// and slice parameters field by field; strings fall back to the same
// coercion that file edits use. Rune-style int-to-string conversion is
// deliberately not offered.
func convertCallArg(t reflect.Type, raw any) (reflect.Value, error) {
	if raw == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if isNumericKind(rv.Kind()) && isNumericKind(t.Kind()) {
		return rv.Convert(t), nil
	}
	if rv.Kind() == t.Kind() && rv.Type().ConvertibleTo(t) {
		return rv.Convert(t), nil
	}
	switch raw.(type) {
	case map[string]any, []any:
		target := reflect.New(t)
		if err := mapstructure.Decode(raw, target.Interface()); err != nil {
			return reflect.Value{}, fmt.Errorf("cannot decode %T into %s: %v", raw, t, err)
		}
		return target.Elem(), nil
	}
	if s, ok := raw.(string); ok {
		v, err := coerceValue(t, s)
		if err == nil {
			return reflect.ValueOf(v), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", raw, t)
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

type callPanic struct {
	value any
	stack []byte
}

// safeCall invokes fv, trading a panic for a report instead of unwinding
// through the storage lock.
func safeCall(fv reflect.Value, in []reflect.Value) (out []reflect.Value, panicked *callPanic) {
	defer func() {
		if r := recover(); r != nil {
			panicked = &callPanic{value: r, stack: debug.Stack()}
		}
	}()
	return fv.Call(in), nil
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

// renderCallResult formats returned values one per line. A trailing error
// return prints as "error: ..." when set and is dropped when nil; a call
// with nothing else to show prints "ok".
func renderCallResult(out []reflect.Value) []byte {
	var b strings.Builder
	for i, v := range out {
		if i == len(out)-1 && v.Type() == errType {
			if !v.IsNil() {
				fmt.Fprintf(&b, "error: %v\n", v.Interface())
			}
			continue
		}
		fmt.Fprintf(&b, "%v\n", v.Interface())
	}
	if b.Len() == 0 {
		b.WriteString("ok\n")
	}
	return []byte(b.String())
}

// CodeNode renders the function's runtime identity: its full name and
// type signature.
type CodeNode struct {
	inode
	owner *FuncNode
}

func (n *CodeNode) Sync() error {
	if !n.writelock {
		n.refresh()
	}
	return nil
}

func (n *CodeNode) refresh() {
	fv, ok := n.owner.resolveFunc()
	if !ok {
		return
	}
	name := runtime.FuncForPC(fv.Pointer()).Name()
	n.setContent([]byte(fmt.Sprintf("%s\n%s\n", name, fv.Type())))
}
