// Package router mounts the sync engine's HTTP surface on a gin engine.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Mounter attaches its routes below a parent group.
type Mounter interface {
	Mount(parent *gin.RouterGroup)
}

// Router mounts groups under /api/<version>.
type Router struct {
	engine  *gin.Engine
	version string
}

// New returns a router for engine. An empty version means v1.
func New(engine *gin.Engine, version string) *Router {
	if version == "" {
		version = "v1"
	}
	return &Router{engine: engine, version: version}
}

func (r *Router) Engine() *gin.Engine { return r.engine }

// Mount registers every group under the versioned prefix, in order.
func (r *Router) Mount(groups ...Mounter) {
	base := r.engine.Group("/api/" + r.version)
	for _, g := range groups {
		g.Mount(base)
	}
}

// Group is a declarative set of routes sharing a prefix and middleware.
// Nested groups see the parent's middleware.
type Group struct {
	name     string
	prefix   string
	use      []gin.HandlerFunc
	routes   []func(*gin.RouterGroup)
	children []*Group
}

func NewGroup(name, prefix string) *Group {
	return &Group{name: name, prefix: prefix}
}

func (g *Group) Name() string   { return g.name }
func (g *Group) Prefix() string { return g.prefix }

func (g *Group) Use(mw ...gin.HandlerFunc) *Group {
	g.use = append(g.use, mw...)
	return g
}

func (g *Group) route(method, path string, hs []gin.HandlerFunc) *Group {
	g.routes = append(g.routes, func(rg *gin.RouterGroup) { rg.Handle(method, path, hs...) })
	return g
}

func (g *Group) GET(path string, hs ...gin.HandlerFunc) *Group {
	return g.route(http.MethodGet, path, hs)
}

func (g *Group) POST(path string, hs ...gin.HandlerFunc) *Group {
	return g.route(http.MethodPost, path, hs)
}

func (g *Group) DELETE(path string, hs ...gin.HandlerFunc) *Group {
	return g.route(http.MethodDelete, path, hs)
}

// Group adds and returns a nested group.
func (g *Group) Group(name, prefix string) *Group {
	child := NewGroup(name, prefix)
	g.children = append(g.children, child)
	return child
}

// RouteCount counts routes in g and every nested group.
func (g *Group) RouteCount() int {
	n := len(g.routes)
	for _, c := range g.children {
		n += c.RouteCount()
	}
	return n
}

func (g *Group) Mount(parent *gin.RouterGroup) {
	rg := parent.Group(g.prefix, g.use...)
	for _, register := range g.routes {
		register(rg)
	}
	for _, c := range g.children {
		c.Mount(rg)
	}
}
