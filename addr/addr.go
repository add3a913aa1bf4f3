// Package addr parses and formats bus addresses.
//
// An Address is a tagged variant over the four address forms this fabric
// uses: router, service, bare-service, and client/instance. The string
// form is canonical for bus delivery — Parse and String round-trip.
package addr

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind distinguishes the four address forms.
type Kind int

const (
	KindRouter Kind = iota
	KindService
	KindBareService
	KindClient
)

func (k Kind) String() string {
	switch k {
	case KindRouter:
		return "router"
	case KindService:
		return "service"
	case KindBareService:
		return "bare-service"
	case KindClient:
		return "client"
	default:
		return "unknown"
	}
}

// Address is a parsed bus address. Which fields are meaningful depends on
// Kind: Username/Domain are always set except for bare-service addresses,
// which carry only Service.
type Address struct {
	Kind     Kind
	Username string
	Domain   string
	Service  string
	Nonce    string
}

const prefix = "opensrf"

// Router returns the address of the router serving domain, registered under
// username (conventionally "router").
func Router(username, domain string) Address {
	return Address{Kind: KindRouter, Username: username, Domain: domain}
}

// Service returns the well-known address a worker for service listens on.
func Service(username, domain, service string) Address {
	return Address{Kind: KindService, Username: username, Domain: domain, Service: service}
}

// BareService returns a router-resolvable address that names only a
// service, with no domain — used when a client doesn't know, or doesn't
// care, which domain will service the call.
func BareService(service string) Address {
	return Address{Kind: KindBareService, Service: service}
}

// Client returns a unique per-process client/instance address. A fresh
// nonce is generated from a uuid, matching the rest of the fabric's use of
// google/uuid for process-unique identifiers.
func Client(username, domain, service string) Address {
	return Address{
		Kind:     KindClient,
		Username: username,
		Domain:   domain,
		Service:  service,
		Nonce:    strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
}

// String renders the canonical wire form of the address.
func (a Address) String() string {
	switch a.Kind {
	case KindRouter:
		return fmt.Sprintf("%s:router:%s:%s", prefix, a.Username, a.Domain)
	case KindService:
		return fmt.Sprintf("%s:service:%s:%s:%s", prefix, a.Username, a.Domain, a.Service)
	case KindBareService:
		return fmt.Sprintf("%s:service:%s", prefix, a.Service)
	case KindClient:
		return fmt.Sprintf("%s:client:%s:%s:%s:%s", prefix, a.Username, a.Domain, a.Service, a.Nonce)
	default:
		return ""
	}
}

// Parse parses the canonical wire form of an address.
func Parse(s string) (Address, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || parts[0] != prefix {
		return Address{}, fmt.Errorf("addr: %q is not a valid bus address", s)
	}

	switch parts[1] {
	case "router":
		if len(parts) != 4 {
			return Address{}, fmt.Errorf("addr: malformed router address %q", s)
		}
		if parts[2] == "" || parts[3] == "" {
			return Address{}, fmt.Errorf("addr: router address %q has empty username/domain", s)
		}
		return Address{Kind: KindRouter, Username: parts[2], Domain: parts[3]}, nil

	case "service":
		switch len(parts) {
		case 3:
			if parts[2] == "" {
				return Address{}, fmt.Errorf("addr: malformed bare service address %q", s)
			}
			return Address{Kind: KindBareService, Service: parts[2]}, nil
		case 5:
			if parts[2] == "" || parts[3] == "" || parts[4] == "" {
				return Address{}, fmt.Errorf("addr: malformed service address %q", s)
			}
			return Address{Kind: KindService, Username: parts[2], Domain: parts[3], Service: parts[4]}, nil
		default:
			return Address{}, fmt.Errorf("addr: malformed service address %q", s)
		}

	case "client":
		if len(parts) != 6 {
			return Address{}, fmt.Errorf("addr: malformed client address %q", s)
		}
		for _, p := range parts[2:] {
			if p == "" {
				return Address{}, fmt.Errorf("addr: client address %q has empty component", s)
			}
		}
		return Address{Kind: KindClient, Username: parts[2], Domain: parts[3], Service: parts[4], Nonce: parts[5]}, nil

	default:
		return Address{}, fmt.Errorf("addr: unknown address form %q in %q", parts[1], s)
	}
}

// IsRouter reports whether the address names a router.
func (a Address) IsRouter() bool { return a.Kind == KindRouter }

// IsService reports whether the address names a service, bare or bound to a
// domain.
func (a Address) IsService() bool { return a.Kind == KindService || a.Kind == KindBareService }
