package sniffer

import (
	"context"
	"net"
	"net/netip"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/vishvananda/netlink"

	"github.com/hostinger/neighsync/internal/dataplane"
	"github.com/hostinger/neighsync/internal/logger"
	"github.com/hostinger/neighsync/internal/neighbor"
	"github.com/hostinger/neighsync/internal/rc"
)

// Learner receives the bindings learned from neighbor advertisements.
type Learner interface {
	Has(itf dataplane.Handle, ip netip.Addr) bool
	AddNeighbor(ctx context.Context, b neighbor.Binding) rc.Code
}

type SnifferInfo struct {
	CancelFunc context.CancelFunc
	StartedAt  time.Time
}

var (
	activeSniffersMu sync.Mutex
	activeSniffers   = make(map[string]SnifferInfo)
)

var log = logger.New("sniffer")

func ListActiveSniffers() map[string]time.Time {
	activeSniffersMu.Lock()
	defer activeSniffersMu.Unlock()

	result := make(map[string]time.Time)
	for iface, info := range activeSniffers {
		result[iface] = info.StartedAt
	}
	return result
}

// ParseAdvertisement extracts the target address and link-layer address of
// a neighbor advertisement. Link-local targets are ignored.
func ParseAdvertisement(packet gopacket.Packet) (netip.Addr, net.HardwareAddr, bool) {
	ipv6Layer := packet.Layer(layers.LayerTypeIPv6)
	naLayer := packet.Layer(layers.LayerTypeICMPv6NeighborAdvertisement)
	if ipv6Layer == nil || naLayer == nil {
		return netip.Addr{}, nil, false
	}

	ipv6 := ipv6Layer.(*layers.IPv6)
	na := naLayer.(*layers.ICMPv6NeighborAdvertisement)
	if ipv6.SrcIP.IsLinkLocalUnicast() || na.TargetAddress.IsLinkLocalUnicast() {
		return netip.Addr{}, nil, false
	}

	target, ok := netip.AddrFromSlice(na.TargetAddress)
	if !ok {
		return netip.Addr{}, nil, false
	}

	for _, opt := range na.Options {
		if opt.Type == layers.ICMPv6OptTargetAddress && len(opt.Data) >= 6 {
			return target.Unmap(), net.HardwareAddr(opt.Data[:6]), true
		}
	}

	if ethLayer := packet.Layer(layers.LayerTypeEthernet); ethLayer != nil {
		return target.Unmap(), ethLayer.(*layers.Ethernet).SrcMAC, true
	}

	return netip.Addr{}, nil, false
}

func handlePacket(ctx context.Context, packet gopacket.Packet, sniffIface string, insert dataplane.Handle, l Learner) {
	target, mac, ok := ParseAdvertisement(packet)
	if !ok {
		return
	}

	if l.Has(insert, target) {
		log.Debug("[%s] Skipping %s, binding already known", sniffIface, target)
		return
	}

	b := neighbor.Binding{Interface: insert, IP: target, HardwareAddr: mac}
	if code := l.AddNeighbor(ctx, b); code.IsOK() {
		log.Info("[%s] Learned %s → %s", sniffIface, target, mac)
	}
}

func sniffNAWithContext(ctx context.Context, sniffIface string, insert dataplane.Handle, l Learner) {
	for attempt := 0; attempt < 10; attempt++ {
		link, err := netlink.LinkByName(sniffIface)
		if err == nil && (link.Attrs().Flags&net.FlagUp) != 0 {
			break
		}
		log.Info("Waiting for %s to become UP... (%d/10)", sniffIface, attempt+1)
		select {
		case <-ctx.Done():
			log.Info("Aborting sniffer start on %s, context cancelled", sniffIface)
			return
		case <-time.After(1 * time.Second):
		}
	}

	handle, err := pcap.OpenLive(sniffIface, 1600, true, pcap.BlockForever)
	if err != nil {
		log.Error("Error opening interface %s: %v", sniffIface, err)
		return
	}
	defer handle.Close()

	filter := "inbound and icmp6 and ip6[40] == 136"
	if err := handle.SetBPFFilter(filter); err != nil {
		log.Error("Error setting BPF filter on %s: %v", sniffIface, err)
		return
	}

	log.Info("Listening for NA packets on %s", sniffIface)
	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packetChan := packetSource.Packets()

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping sniffer on %s", sniffIface)
			return
		case pkt := <-packetChan:
			if pkt == nil {
				return
			}
			handlePacket(ctx, pkt, sniffIface, insert, l)
		}
	}
}

var tapRe = regexp.MustCompile(`^tap\d+`)

func getTapInterfaces() ([]string, error) {
	entries, err := os.ReadDir("/sys/class/net/")
	if err != nil {
		return nil, err
	}

	var tapIfaces []string
	for _, entry := range entries {
		if tapRe.MatchString(entry.Name()) {
			tapIfaces = append(tapIfaces, entry.Name())
		}
	}
	return tapIfaces, nil
}

// Run scans for tap interfaces every interval and sniffs each of them for
// neighbor advertisements, passing learned bindings on insert to l. It
// returns when ctx is done.
func Run(ctx context.Context, insert dataplane.Handle, l Learner, interval time.Duration) {
	log.Info("Starting NA sniffer, scanning for tap interfaces every %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		currentIfaces, err := getTapInterfaces()
		if err != nil {
			log.Error("Failed to list interfaces: %v", err)
		} else {
			reconcileSniffers(ctx, currentIfaces, insert, l)
		}

		select {
		case <-ctx.Done():
			stopAll()
			return
		case <-ticker.C:
		}
	}
}

func reconcileSniffers(ctx context.Context, currentIfaces []string, insert dataplane.Handle, l Learner) {
	currentSet := make(map[string]bool)
	for _, sniffIface := range currentIfaces {
		currentSet[sniffIface] = true
	}

	activeSniffersMu.Lock()
	defer activeSniffersMu.Unlock()

	for sniffIface := range currentSet {
		if _, exists := activeSniffers[sniffIface]; !exists {
			log.Info("New tap detected: %s, starting sniffer", sniffIface)
			sctx, cancel := context.WithCancel(ctx)
			activeSniffers[sniffIface] = SnifferInfo{
				CancelFunc: cancel,
				StartedAt:  time.Now(),
			}
			go sniffNAWithContext(sctx, sniffIface, insert, l)
		}
	}

	for sniffIface, info := range activeSniffers {
		if !currentSet[sniffIface] {
			log.Info("Tap removed: %s, stopping sniffer", sniffIface)
			info.CancelFunc()
			delete(activeSniffers, sniffIface)
		}
	}
}

func stopAll() {
	activeSniffersMu.Lock()
	defer activeSniffersMu.Unlock()

	for sniffIface, info := range activeSniffers {
		info.CancelFunc()
		delete(activeSniffers, sniffIface)
	}
}
