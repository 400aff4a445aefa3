package txconn

import (
	"net"
	"sync"

	"github.com/multiformats/go-multiaddr"
)

// RouteInfo is one (uid, url) row of a route table snapshot (spec §4.6
// get_route_infos).
type RouteInfo struct {
	UID string
	URL string
}

// routeTable is the bidirectional uid<->url map from spec §3. Route URLs are
// parsed and validated as multiaddrs before being resolved to a net.UDPAddr,
// giving TXConnectUrlUnvalid a real parser grounded in the teacher's heavy
// multiaddr usage for P2P addressing, rather than a hand-rolled one.
type routeTable struct {
	mu     sync.RWMutex
	uidURL map[string]string
	urlUID map[string]string
}

func newRouteTable() *routeTable {
	return &routeTable{
		uidURL: make(map[string]string),
		urlUID: make(map[string]string),
	}
}

// add inserts into both directions; existing mappings are overwritten.
func (r *routeTable) add(uid, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uidURL[uid] = url
	r.urlUID[url] = uid
}

func (r *routeTable) findUIDByURL(url string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uid, ok := r.urlUID[url]
	return uid, ok
}

func (r *routeTable) findURLByUID(uid string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	url, ok := r.uidURL[uid]
	return url, ok
}

func (r *routeTable) snapshot() []RouteInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RouteInfo, 0, len(r.uidURL))
	for uid, url := range r.uidURL {
		out = append(out, RouteInfo{UID: uid, URL: url})
	}
	return out
}

// resolveUDPAddr parses url as a multiaddr (e.g. "/ip4/127.0.0.1/udp/4001")
// and resolves it to a net.UDPAddr by pulling the ip4/ip6 and udp protocol
// values out directly, rather than depending on the separate manet module.
// Bare "host:port" strings are accepted as a fallback for routes registered
// from a plain net.UDPAddr.String() (e.g. the loopback test harness), which
// is not itself a multiaddr.
func resolveUDPAddr(url string) (*net.UDPAddr, error) {
	addr, err := multiaddr.NewMultiaddr(url)
	if err != nil {
		udpAddr, resolveErr := net.ResolveUDPAddr("udp", url)
		if resolveErr != nil {
			return nil, errConnectUrlUnvalid
		}
		return udpAddr, nil
	}

	host, hostErr := addr.ValueForProtocol(multiaddr.P_IP4)
	if hostErr != nil {
		host, hostErr = addr.ValueForProtocol(multiaddr.P_IP6)
	}
	port, portErr := addr.ValueForProtocol(multiaddr.P_UDP)
	if hostErr != nil || portErr != nil {
		return nil, errConnectUrlUnvalid
	}

	udpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, errConnectUrlUnvalid
	}
	return udpAddr, nil
}
