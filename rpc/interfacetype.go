package rpc

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/dgryski/go-farm"
	"github.com/tidwall/btree"

	"go.robomesh.io/rpcports/element"
)

type (
	// retKind classifies what a registered method returns and thereby which
	// call modes and which return-value wire layout apply.
	retKind uint8

	// Method describes one registered interface method: its stable
	// function id (declaration order), invocation target, argument types
	// and return shape.
	Method struct {
		iface    *InterfaceType
		id       uint8
		name     string
		fn       reflect.Value
		argTypes []reflect.Type
		kind     retKind
		// value type of the call result: R for plain returns, V for
		// Future[V] and Promise[V] returns, nil for void/error-only
		resultType reflect.Type
		// declared return type, nil for void/error-only
		retType reflect.Type
	}

	// InterfaceType is the registered record of one RPC interface: the
	// stable name, the wire tag derived from it, and the method table in
	// declaration order.
	InterfaceType struct {
		name     string
		tag      uint32
		goType   reflect.Type
		dataType element.DataType
		methods  []*Method
		byPtr    map[uintptr]*Method
	}
)

const (
	retVoid retKind = iota
	retError
	retValue
	retValueError
	retNativeFuture
	retPromise
)

// maxMethods bounds the function-id space; ids are single bytes on the
// wire.
const maxMethods = 256

var (
	registryMu     sync.RWMutex
	registryByName btree.Map[string, *InterfaceType]
	registryByTag  = map[uint32]*InterfaceType{}
	registryByType = map[reflect.Type]*InterfaceType{}

	errorType  = reflect.TypeOf((*error)(nil)).Elem()
	futureType = reflect.TypeOf((*futureCarrier)(nil)).Elem()
)

// NewInterfaceType registers interface type T under a stable name together
// with its remote-callable methods, given as method expressions in
// declaration order (T.Foo, T.Bar, ...). Registration happens exactly once
// per type, typically from package init; registering the same name or type
// twice is an error.
func NewInterfaceType[T any](name string, methods ...any) (*InterfaceType, error) {
	goType := reflect.TypeOf((*T)(nil)).Elem()
	if len(methods) > maxMethods {
		return nil, fmt.Errorf("interface %q declares %d methods, limit is %d", name, len(methods), maxMethods)
	}

	it := &InterfaceType{
		name:   name,
		tag:    farm.Fingerprint32([]byte(name)),
		goType: goType,
		dataType: element.DataType{
			Name:           name,
			Classification: element.ClassificationOther,
			Size:           0,
		},
		byPtr: make(map[uintptr]*Method, len(methods)),
	}

	for i, m := range methods {
		method, err := describeMethod(it, uint8(i), goType, m)
		if err != nil {
			return nil, fmt.Errorf("interface %q method %d: %w", name, i, err)
		}
		it.methods = append(it.methods, method)
		it.byPtr[method.fn.Pointer()] = method
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registryByName.Get(name); ok {
		return nil, fmt.Errorf("interface type %q already registered", name)
	}
	if _, ok := registryByType[goType]; ok {
		return nil, fmt.Errorf("go type %v already registered", goType)
	}
	if other, ok := registryByTag[it.tag]; ok {
		return nil, fmt.Errorf("wire tag of %q collides with %q", name, other.name)
	}
	registryByName.Set(name, it)
	registryByTag[it.tag] = it
	registryByType[goType] = it
	return it, nil
}

// MustInterfaceType is NewInterfaceType panicking on error, for use in
// package init.
func MustInterfaceType[T any](name string, methods ...any) *InterfaceType {
	it, err := NewInterfaceType[T](name, methods...)
	if err != nil {
		panic(err)
	}
	return it
}

func describeMethod(it *InterfaceType, id uint8, goType reflect.Type, m any) (*Method, error) {
	fn := reflect.ValueOf(m)
	if fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("not a method expression: %T", m)
	}
	ft := fn.Type()
	if ft.NumIn() == 0 || ft.In(0) != goType {
		return nil, fmt.Errorf("first parameter must be the receiver %v", goType)
	}

	method := &Method{
		iface: it,
		id:    id,
		name:  methodName(fn),
		fn:    fn,
	}
	for i := 1; i < ft.NumIn(); i++ {
		method.argTypes = append(method.argTypes, ft.In(i))
	}

	switch ft.NumOut() {
	case 0:
		method.kind = retVoid
	case 1:
		out := ft.Out(0)
		switch {
		case out == errorType:
			method.kind = retError
		case reflect.PointerTo(out).Implements(futureType) || out.Implements(futureType):
			method.kind = retNativeFuture
			method.retType = out
			vt, err := futureResultType(out)
			if err != nil {
				return nil, err
			}
			method.resultType = vt
		case promiseResultType(out) != nil:
			method.kind = retPromise
			method.retType = out
			method.resultType = promiseResultType(out)
		default:
			method.kind = retValue
			method.retType = out
			method.resultType = out
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, fmt.Errorf("second return value must be error, have %v", ft.Out(1))
		}
		out := ft.Out(0)
		if reflect.PointerTo(out).Implements(futureType) || out.Implements(futureType) ||
			promiseResultType(out) != nil {
			return nil, fmt.Errorf("future and promise returns cannot be combined with error")
		}
		method.kind = retValueError
		method.retType = out
		method.resultType = out
	default:
		return nil, fmt.Errorf("too many return values: %d", ft.NumOut())
	}
	return method, nil
}

// futureResultType reports V for a return type *Future[V] or Future[V].
func futureResultType(t reflect.Type) (reflect.Type, error) {
	probe := t
	if probe.Kind() != reflect.Pointer {
		probe = reflect.PointerTo(t)
	}
	m, ok := probe.MethodByName("Get")
	if !ok || m.Type.NumOut() != 2 {
		return nil, fmt.Errorf("unsupported future return type %v", t)
	}
	return m.Type.Out(0), nil
}

// methodName extracts a readable name from a method expression.
func methodName(fn reflect.Value) string {
	f := runtime.FuncForPC(fn.Pointer())
	if f == nil {
		return "unknown"
	}
	name := f.Name()
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}

// Name returns the registered stable name.
func (it *InterfaceType) Name() string { return it.name }

// Tag returns the 32-bit wire identifier derived from the name.
func (it *InterfaceType) Tag() uint32 { return it.tag }

// DataType returns the run-time type record ports of this interface carry.
func (it *InterfaceType) DataType() element.DataType { return it.dataType }

// NumMethods returns the number of registered methods.
func (it *InterfaceType) NumMethods() int { return len(it.methods) }

// MethodByID resolves a function id, nil when out of range.
func (it *InterfaceType) MethodByID(id uint8) *Method {
	if int(id) >= len(it.methods) {
		return nil
	}
	return it.methods[id]
}

// MethodOf resolves a method expression previously passed to registration.
func (it *InterfaceType) MethodOf(m any) (*Method, error) {
	fn := reflect.ValueOf(m)
	if fn.Kind() != reflect.Func {
		return nil, NewError(StatusInvalidCall, "not a method expression: %T", m)
	}
	method, ok := it.byPtr[fn.Pointer()]
	if !ok {
		return nil, NewError(StatusInvalidCall, "method not registered on interface %q", it.name)
	}
	return method, nil
}

// ID returns the stable function id of the method.
func (m *Method) ID() uint8 { return m.id }

// Name returns the method name for logging.
func (m *Method) Name() string { return m.name }

// LookupInterfaceType resolves a registered interface by name.
func LookupInterfaceType(name string) *InterfaceType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	it, _ := registryByName.Get(name)
	return it
}

// LookupInterfaceTypeByTag resolves a registered interface by its wire tag.
func LookupInterfaceTypeByTag(tag uint32) *InterfaceType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registryByTag[tag]
}

// RegisteredInterfaceNames returns all registered names in sorted order.
func RegisteredInterfaceNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, registryByName.Len())
	registryByName.Scan(func(name string, _ *InterfaceType) bool {
		names = append(names, name)
		return true
	})
	return names
}
