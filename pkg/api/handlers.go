package api

import (
	"cmp"
	"encoding/hex"
	"net/http"
	"slices"
	"strconv"

	"github.com/ZentaChain/gnutella-vmsg/pkg/network"
	"github.com/ZentaChain/gnutella-vmsg/pkg/proxy"
	"github.com/ZentaChain/gnutella-vmsg/pkg/tsync"
	"github.com/gin-gonic/gin"
)

// RegistryEntry is one known vendor message
type RegistryEntry struct {
	Vendor   string `json:"vendor"`
	Selector uint16 `json:"id"`
	Version  uint16 `json:"version"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

// InfoResponse is the decoded sub-header of a payload
type InfoResponse struct {
	Info string `json:"info"`
}

// TimeSyncResponse reports clock synchronization
type TimeSyncResponse struct {
	Offset  string         `json:"offset"` // applied to our local clock
	Pending int            `json:"pending"`
	Samples []tsync.Sample `json:"samples"`
}

// ProxiesResponse reports push-proxy state
type ProxiesResponse struct {
	Routes  []proxy.Route `json:"routes"`
	Proxies []string      `json:"proxies"`
}

func (s *Server) handleRegistry(c *gin.Context) {
	entries := s.src.Registry.Entries()
	out := make([]RegistryEntry, 0, len(entries))
	for _, d := range entries {
		out = append(out, RegistryEntry{
			Vendor:   d.Vendor.String(),
			Selector: d.Selector,
			Version:  d.Version,
			Name:     d.Name,
			Kind:     d.Kind.String(),
		})
	}
	c.JSON(http.StatusOK, out)
}

// handleInfoString decodes a hex-encoded vendor payload
func (s *Server) handleInfoString(c *gin.Context) {
	payload, err := hex.DecodeString(c.Param("payload"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid payload", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, InfoResponse{Info: s.src.Registry.InfoString(payload)})
}

func (s *Server) handleStats(c *gin.Context) {
	if s.src.Stats == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Statistics not enabled"})
		return
	}
	c.JSON(http.StatusOK, s.src.Stats.Snapshot())
}

func (s *Server) handleNodes(c *gin.Context) {
	if s.src.Pool == nil {
		c.JSON(http.StatusOK, []network.Info{})
		return
	}

	nodes := s.src.Pool.Nodes()
	out := make([]network.Info, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Info())
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleNode(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid node id", Message: err.Error()})
		return
	}

	if s.src.Pool != nil {
		if n, ok := s.src.Pool.Get(id); ok {
			c.JSON(http.StatusOK, n.Info())
			return
		}
	}
	c.JSON(http.StatusNotFound, ErrorResponse{Error: "Node not found"})
}

func (s *Server) handleTimeSync(c *gin.Context) {
	resp := TimeSyncResponse{Offset: "0s", Samples: []tsync.Sample{}}
	if s.src.Clock != nil {
		resp.Offset = s.src.Clock.Offset().String()
	}
	if s.src.TimeSync != nil {
		resp.Pending = s.src.TimeSync.Pending()
		resp.Samples = s.src.TimeSync.Samples()
		slices.SortFunc(resp.Samples, func(a, b tsync.Sample) int {
			return cmp.Compare(a.Node, b.Node)
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleProxies(c *gin.Context) {
	resp := ProxiesResponse{Routes: []proxy.Route{}, Proxies: []string{}}
	if s.src.Proxies != nil {
		resp.Routes = s.src.Proxies.Routes()
		for _, addr := range s.src.Proxies.Proxies() {
			resp.Proxies = append(resp.Proxies, addr.String())
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	nodes := 0
	if s.src.Pool != nil {
		nodes = len(s.src.Pool.Nodes())
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "nodes": nodes})
}
