package library

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"
)

type (
	// PredicateEnv provides a Lua execution environment for virtual-library
	// membership predicates, with state pooling
	PredicateEnv struct {
		statePool chan *lua.State
		compiled  sync.Map
	}

	compiledPredicate struct {
		bytecode []byte
	}
)

const (
	luaStatePoolSize    = 4
	luaGlobalTableIndex = -2
	luaArgLocalTemplate = "local %s = select(%d, ...)"
	luaScriptSeparator  = "\n"
	luaGlobalTableName  = "_G"
)

var (
	ErrPredicateLoad      = errors.New("predicate load error")
	ErrPredicateExecution = errors.New("predicate execution error")
)

// predicateArgs are the track fields visible to a predicate, in the order
// they are pushed onto the Lua stack
var predicateArgs = [...]string{
	"path", "title", "artist", "album", "duration_ms",
}

var luaExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
}

// NewPredicateEnv creates a Lua environment with a state pool for
// predicate reuse
func NewPredicateEnv() *PredicateEnv {
	return &PredicateEnv{
		statePool: make(chan *lua.State, luaStatePoolSize),
	}
}

// Check compiles the predicate expression without running it
func (e *PredicateEnv) Check(expr string) error {
	_, err := e.compile(expr)
	return err
}

// Eval runs the predicate expression against a track and returns the
// boolean result. Compiled predicates are cached by expression
func (e *PredicateEnv) Eval(expr string, t *Track) (bool, error) {
	c, err := e.compile(expr)
	if err != nil {
		return false, err
	}

	L := e.getState()
	defer e.returnState(L)

	e.setupSandbox(L)
	if err := L.Load(bytes.NewReader(c.bytecode), "predicate", "b"); err != nil {
		return false, fmt.Errorf("%w: %w", ErrPredicateLoad, err)
	}

	L.PushString(t.Path)
	L.PushString(t.Title)
	L.PushString(t.Artist)
	L.PushString(t.Album)
	L.PushInteger(int(t.DurationMS))

	if err := L.ProtectedCall(len(predicateArgs), 1, 0); err != nil {
		return false, fmt.Errorf("%w: %w", ErrPredicateExecution, err)
	}

	result := L.ToBoolean(-1)
	L.Pop(1)
	return result, nil
}

func (e *PredicateEnv) compile(expr string) (*compiledPredicate, error) {
	if val, ok := e.compiled.Load(expr); ok {
		return val.(*compiledPredicate), nil
	}

	argLocals := make([]string, len(predicateArgs))
	for i, name := range predicateArgs {
		argLocals[i] = fmt.Sprintf(luaArgLocalTemplate, name, i+1)
	}

	src := strings.Join([]string{
		strings.Join(argLocals, luaScriptSeparator),
		"return (" + expr + ")",
	}, luaScriptSeparator)

	L := lua.NewState()
	e.setupSandbox(L)

	if err := lua.LoadString(L, src); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPredicateLoad, err)
	}

	var buf bytes.Buffer
	if err := L.Dump(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPredicateLoad, err)
	}

	c := &compiledPredicate{bytecode: buf.Bytes()}
	e.compiled.Store(expr, c)
	return c, nil
}

func (e *PredicateEnv) setupSandbox(L *lua.State) {
	lua.OpenLibraries(L)
	L.Global(luaGlobalTableName)
	for _, name := range luaExclude {
		L.PushNil()
		L.SetField(luaGlobalTableIndex, name)
	}
	L.Pop(1)
}

func (e *PredicateEnv) getState() *lua.State {
	select {
	case L := <-e.statePool:
		return L
	default:
		return lua.NewState()
	}
}

func (e *PredicateEnv) returnState(L *lua.State) {
	L.SetTop(0)

	select {
	case e.statePool <- L:
	default:
	}
}
