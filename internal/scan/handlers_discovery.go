package scan

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/surfacehq/surface/internal/store"
)

// seedLabels is the built-in enumeration list used when subfinder is absent.
var seedLabels = []string{
	"www", "mail", "api", "dev", "staging", "test", "admin",
	"portal", "vpn", "blog", "app", "docs", "cdn", "static",
}

// commonPorts is the connect-scan fallback set when nmap is absent.
var commonPorts = []int{
	21, 22, 23, 25, 53, 80, 110, 143, 443, 445, 465, 587, 993, 995,
	1433, 3306, 3389, 5432, 6379, 8000, 8080, 8443, 9200, 27017,
}

// --- subdomain enumeration ---

func (r *Runner) runSubdomainScan(ctx context.Context, task *store.ScanTask) (store.JSONMap, error) {
	domain, _ := task.Config["domain"].(string)
	if domain == "" {
		if ts := configTargets(task.Config); len(ts) > 0 {
			domain = ts[0]
		}
	}
	if err := ValidateDomain(domain); err != nil {
		return nil, err
	}

	names, source, err := r.enumerateSubdomains(ctx, domain)
	if err != nil {
		return nil, err
	}

	found := 0
	for i, name := range names {
		if err := ValidateDomain(name); err != nil {
			continue
		}
		if _, err := r.store.UpsertSubdomain(ctx, task.ProjectID, strings.ToLower(name), source, nil); err != nil {
			return nil, err
		}
		found++
		if err := r.store.UpdateScanTaskProgress(ctx, task.ID, i+1, len(names)); err != nil {
			r.logger.Printf("task %s progress update failed: %v", task.ID, err)
		}
	}
	return store.JSONMap{"domain": domain, "subdomains_found": found, "source": source}, nil
}

func (r *Runner) enumerateSubdomains(ctx context.Context, domain string) ([]string, string, error) {
	out, err := runTool(ctx, subfinderTimeout, "subfinder", "-d", domain, "-silent")
	if err == nil {
		var names []string
		for _, line := range strings.Split(out, "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				names = append(names, line)
			}
		}
		return names, "subfinder", nil
	}
	if !isToolMissing(err) {
		return nil, "", err
	}

	// Seed-list fallback: keep the labels that actually resolve.
	r.logger.Printf("subfinder unavailable, probing seed list for %s", domain)
	resolver := newResolver()
	var names []string
	for _, label := range seedLabels {
		candidate := label + "." + domain
		if len(resolver.resolve(ctx, candidate)) > 0 {
			names = append(names, candidate)
		}
	}
	return names, "seed_list", nil
}

// --- DNS resolution ---

func (r *Runner) runDNSResolve(ctx context.Context, task *store.ScanTask) (store.JSONMap, error) {
	targets := configTargets(task.Config)
	if len(targets) == 0 {
		names, err := r.store.ListSubdomainNames(ctx, task.ProjectID)
		if err != nil {
			return nil, err
		}
		targets = names
	}

	resolver := newResolver()
	resolved, ipsFound := 0, 0
	for i, name := range targets {
		if err := ValidateDomain(name); err != nil {
			continue
		}
		ips := resolver.resolve(ctx, name)
		if len(ips) > 0 {
			resolved++
			if _, err := r.store.UpsertSubdomain(ctx, task.ProjectID, strings.ToLower(name), "dns_resolve", ips); err != nil {
				return nil, err
			}
			for _, ip := range ips {
				if _, err := r.store.UpsertIPAddress(ctx, task.ProjectID, ip, "dns_resolve"); err != nil {
					return nil, err
				}
				ipsFound++
			}
		}
		if err := r.store.UpdateScanTaskProgress(ctx, task.ID, i+1, len(targets)); err != nil {
			r.logger.Printf("task %s progress update failed: %v", task.ID, err)
		}
	}
	return store.JSONMap{"targets": len(targets), "resolved": resolved, "ips_found": ipsFound}, nil
}

// resolver queries A and AAAA records directly against the system's
// configured nameservers.
type resolver struct {
	client  *dns.Client
	servers []string
}

func newResolver() *resolver {
	r := &resolver{client: &dns.Client{Timeout: 5 * time.Second}}
	if conf, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil {
		for _, s := range conf.Servers {
			r.servers = append(r.servers, net.JoinHostPort(s, conf.Port))
		}
	}
	if len(r.servers) == 0 {
		r.servers = []string{"8.8.8.8:53"}
	}
	return r
}

func (r *resolver) resolve(ctx context.Context, name string) []string {
	var ips []string
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(name), qtype)
		for _, server := range r.servers {
			resp, _, err := r.client.ExchangeContext(ctx, msg, server)
			if err != nil || resp == nil {
				continue
			}
			for _, rr := range resp.Answer {
				switch a := rr.(type) {
				case *dns.A:
					ips = append(ips, a.A.String())
				case *dns.AAAA:
					ips = append(ips, a.AAAA.String())
				}
			}
			break
		}
	}
	return ips
}

// --- port scanning ---

func (r *Runner) runPortScan(ctx context.Context, task *store.ScanTask) (store.JSONMap, error) {
	targets := configTargets(task.Config)
	if len(targets) == 0 {
		rows, err := r.store.ListIPAddresses(ctx, task.ProjectID, 500, 0)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			targets = append(targets, row.IP)
		}
	}
	if len(targets) == 0 {
		return store.JSONMap{"targets": 0, "open_ports": 0}, nil
	}

	openTotal := 0
	for i, target := range targets {
		ports, source, err := r.scanPorts(ctx, target)
		if err != nil {
			return nil, err
		}
		if len(ports) > 0 {
			ipRow, err := r.store.UpsertIPAddress(ctx, task.ProjectID, target, source)
			if err != nil {
				return nil, err
			}
			for port, service := range ports {
				if _, err := r.store.UpsertPort(ctx, task.ProjectID, ipRow.ID, port, "tcp", service, "", source); err != nil {
					return nil, err
				}
				openTotal++
			}
		}
		if err := r.store.UpdateScanTaskProgress(ctx, task.ID, i+1, len(targets)); err != nil {
			r.logger.Printf("task %s progress update failed: %v", task.ID, err)
		}
	}
	return store.JSONMap{"targets": len(targets), "open_ports": openTotal}, nil
}

// scanPorts returns open port -> service name. Targets must be an IP or a
// valid DNS name; anything else is rejected before reaching the tool.
func (r *Runner) scanPorts(ctx context.Context, target string) (map[int]string, string, error) {
	if net.ParseIP(target) == nil {
		if err := ValidateDomain(target); err != nil {
			return nil, "", err
		}
	}
	out, err := runTool(ctx, nmapTimeout, "nmap", "-p", "1-1000", "--open", "-T4", "-oG", "-", target)
	if err == nil {
		return parseNmapGrepable(out), "nmap", nil
	}
	if !isToolMissing(err) {
		return nil, "", err
	}

	r.logger.Printf("nmap unavailable, connect-scanning %s", target)
	ports := map[int]string{}
	for _, port := range commonPorts {
		d := net.Dialer{Timeout: 2 * time.Second}
		conn, derr := d.DialContext(ctx, "tcp", net.JoinHostPort(target, strconv.Itoa(port)))
		if derr == nil {
			conn.Close()
			ports[port] = ""
		}
	}
	return ports, "connect_scan", nil
}

// parseNmapGrepable extracts "port/state/proto//service" tuples from -oG
// output lines.
func parseNmapGrepable(out string) map[int]string {
	ports := map[int]string{}
	for _, line := range strings.Split(out, "\n") {
		idx := strings.Index(line, "Ports:")
		if idx < 0 {
			continue
		}
		for _, entry := range strings.Split(line[idx+len("Ports:"):], ",") {
			fields := strings.Split(strings.TrimSpace(entry), "/")
			if len(fields) < 5 || fields[1] != "open" {
				continue
			}
			port, err := strconv.Atoi(fields[0])
			if err != nil {
				continue
			}
			ports[port] = fields[4]
		}
	}
	return ports
}

func isToolMissing(err error) bool {
	return errors.Is(err, errToolMissing)
}
