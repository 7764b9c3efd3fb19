package value

import (
	"strconv"
)

// Context is the ordered name→Value mapping persisted across turns, plus
// the bookkeeping used to mint fresh variable names and to remember which
// names an attachment was bound to.
//
// Context is not safe for concurrent use; a conversation is only ever
// driven by one turn at a time.
type Context struct {
	names       []string
	vars        map[string]Value
	counters    map[string]int
	attachments map[string][]string
}

// NewContext returns an empty Context.
func NewContext() *Context {
	return &Context{
		vars:        make(map[string]Value),
		counters:    make(map[string]int),
		attachments: make(map[string][]string),
	}
}

// Get returns the value bound to name.
func (c *Context) Get(name string) (Value, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Has reports whether name is bound.
func (c *Context) Has(name string) bool {
	_, ok := c.vars[name]
	return ok
}

// Set binds name to v. Rebinding keeps the original position.
func (c *Context) Set(name string, v Value) {
	if _, ok := c.vars[name]; !ok {
		c.names = append(c.names, name)
	}
	c.vars[name] = v
}

// Delete unbinds name.
func (c *Context) Delete(name string) {
	if _, ok := c.vars[name]; !ok {
		return
	}
	delete(c.vars, name)
	for i, n := range c.names {
		if n == name {
			c.names = append(c.names[:i], c.names[i+1:]...)
			break
		}
	}
}

// Names returns bound names in binding order.
func (c *Context) Names() []string {
	return append([]string(nil), c.names...)
}

// Len returns the number of bindings.
func (c *Context) Len() int { return len(c.names) }

// NameOf returns the first name (in binding order) whose value equals v.
// Objects match by identity.
func (c *Context) NameOf(v Value) (string, bool) {
	for _, n := range c.names {
		if c.vars[n].Equal(v) {
			return n, true
		}
	}
	return "", false
}

// MintName returns the next unused name for alias: image0, image1, ...
func (c *Context) MintName(alias string) string {
	for {
		idx := c.counters[alias]
		c.counters[alias] = idx + 1
		name := alias + strconv.Itoa(idx)
		if !c.Has(name) {
			return name
		}
	}
}

// Counter returns the next index MintName would try for alias.
func (c *Context) Counter(alias string) int { return c.counters[alias] }

// Reserve moves the counter for alias forward to next. It never moves it back.
func (c *Context) Reserve(alias string, next int) {
	if next > c.counters[alias] {
		c.counters[alias] = next
	}
}

// AttachmentNames returns the names an attachment was previously bound to.
func (c *Context) AttachmentNames(id string) ([]string, bool) {
	names, ok := c.attachments[id]
	if !ok {
		return nil, false
	}
	return append([]string(nil), names...), true
}

// RememberAttachment records the names an attachment was bound to.
func (c *Context) RememberAttachment(id string, names []string) {
	c.attachments[id] = append([]string(nil), names...)
}

// Filter returns a new Context holding only the bindings keep accepts.
// Counters carry over; an attachment memo survives only while every name it
// refers to does.
func (c *Context) Filter(keep func(name string, v Value) bool) *Context {
	out := NewContext()
	for _, n := range c.names {
		if v := c.vars[n]; keep(n, v) {
			out.Set(n, v)
		}
	}
	for alias, idx := range c.counters {
		out.counters[alias] = idx
	}
	for id, names := range c.attachments {
		alive := true
		for _, n := range names {
			if !out.Has(n) {
				alive = false
				break
			}
		}
		if alive {
			out.attachments[id] = append([]string(nil), names...)
		}
	}
	return out
}

// Clone returns an independent copy. Values are immutable so they are shared.
func (c *Context) Clone() *Context {
	out := NewContext()
	out.names = append(out.names, c.names...)
	for n, v := range c.vars {
		out.vars[n] = v
	}
	for alias, idx := range c.counters {
		out.counters[alias] = idx
	}
	for id, names := range c.attachments {
		out.attachments[id] = append([]string(nil), names...)
	}
	return out
}
