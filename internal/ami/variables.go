package ami

// Variable is a single exported name/value pair.
type Variable struct {
	Name  string
	Value string
}

// Variables is an ordered set of exported variables. Setting an existing
// name replaces its value in place.
type Variables []Variable

func (v *Variables) Set(name, value string) {
	for i := range *v {
		if (*v)[i].Name == name {
			(*v)[i].Value = value
			return
		}
	}
	*v = append(*v, Variable{Name: name, Value: value})
}

// Get returns the value for name and whether it was present.
func (v Variables) Get(name string) (string, bool) {
	for _, kv := range v {
		if kv.Name == name {
			return kv.Value, true
		}
	}
	return "", false
}

// Map returns the variables keyed by name.
func (v Variables) Map() map[string]string {
	m := make(map[string]string, len(v))
	for _, kv := range v {
		m[kv.Name] = kv.Value
	}
	return m
}

// Environ renders NAME=value entries in order, ready for exec.Cmd.Env.
func (v Variables) Environ() []string {
	env := make([]string, 0, len(v))
	for _, kv := range v {
		env = append(env, kv.Name+"="+kv.Value)
	}
	return env
}
