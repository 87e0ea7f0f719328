package command

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/mkcommunity/registry/internal/problem"
)

// Registration maps a command name to its constructor and whether successful
// runs are journalled.
type Registration struct {
	New    func() Command
	Logged bool
}

//nolint:gochecknoglobals
var (
	registryMu sync.RWMutex
	registry   = map[string]Registration{}
)

// Register adds a command type to the flat registry. Called from package init
// functions; duplicate names panic since that is a programming error.
func Register(name string, logged bool, factory func() Command) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic("duplicate command registration: " + name)
	}

	registry[name] = Registration{New: factory, Logged: logged}
}

func IsLogged(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()

	return registry[name].Logged
}

// Rehydrate rebuilds a command from its journalled form. Unknown type names
// fail the replay.
func Rehydrate(name string, data []byte) (Command, error) {
	registryMu.RLock()
	reg, found := registry[name]
	registryMu.RUnlock()

	if !found {
		return nil, problem.Newf(http.StatusInternalServerError, "Unsupported log type", "no registered command named %s", name)
	}

	cmd := reg.New()
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, problem.Wrap(http.StatusInternalServerError, "Unsupported log type", err)
	}

	return cmd, nil
}
