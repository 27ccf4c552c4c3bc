package config

import (
	"sort"
	"strconv"
	"strings"
)

// Service permissions checked by the internal API
const (
	PermissionCredit      = "credit"
	PermissionDebit       = "debit"
	PermissionBalance     = "balance"
	PermissionTransaction = "transaction"
	PermissionReferral    = "referral"
	PermissionUsers       = "users"
)

// ServiceCredential is the expected key and permission set of one calling service
type ServiceCredential struct {
	APIKey      string
	Permissions map[string]bool
}

// ServiceRegistry maps service names to credentials. Read-only after parsing.
type ServiceRegistry struct {
	services map[string]ServiceCredential
}

// NewServiceRegistry copies the given credentials into a registry
func NewServiceRegistry(services map[string]ServiceCredential) ServiceRegistry {
	copied := make(map[string]ServiceCredential, len(services))
	for name, cred := range services {
		perms := make(map[string]bool, len(cred.Permissions))
		for p, ok := range cred.Permissions {
			perms[p] = ok
		}
		copied[name] = ServiceCredential{APIKey: cred.APIKey, Permissions: perms}
	}
	return ServiceRegistry{services: copied}
}

// ParseServiceRegistry parses "name:key:perm|perm,name2:key2:perm".
// Entries without a name or key are skipped.
func ParseServiceRegistry(raw string) ServiceRegistry {
	services := make(map[string]ServiceCredential)
	for _, entry := range splitList(raw) {
		first := strings.Index(entry, ":")
		last := strings.LastIndex(entry, ":")
		if first <= 0 || last == first {
			continue
		}
		name := strings.TrimSpace(entry[:first])
		key := strings.TrimSpace(entry[first+1 : last])
		if name == "" || key == "" {
			continue
		}
		perms := make(map[string]bool)
		for _, p := range strings.Split(entry[last+1:], "|") {
			if p = strings.TrimSpace(strings.ToLower(p)); p != "" {
				perms[p] = true
			}
		}
		services[name] = ServiceCredential{APIKey: key, Permissions: perms}
	}
	return ServiceRegistry{services: services}
}

// Lookup returns the credential registered for name
func (r ServiceRegistry) Lookup(name string) (ServiceCredential, bool) {
	cred, ok := r.services[name]
	return cred, ok
}

// Names lists registered services in sorted order
func (r ServiceRegistry) Names() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CurrencyConfig describes one wallet currency
type CurrencyConfig struct {
	Decimals int32
}

// WalletConfig holds ledger currency settings
type WalletConfig struct {
	Currencies         map[string]CurrencyConfig
	AllowCustom        bool
	DailyLoginReward   int64
	DailyLoginCurrency string
}

// ParseCurrencies parses "points:0,usdt:6". A missing or bad decimals value means 0.
func ParseCurrencies(raw string) map[string]CurrencyConfig {
	currencies := make(map[string]CurrencyConfig)
	for _, entry := range splitList(raw) {
		name, decimals, _ := strings.Cut(entry, ":")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		d, err := strconv.Atoi(strings.TrimSpace(decimals))
		if err != nil || d < 0 {
			d = 0
		}
		currencies[name] = CurrencyConfig{Decimals: int32(d)}
	}
	return currencies
}

// CurrencyNames lists the configured currencies in sorted order
func (w WalletConfig) CurrencyNames() []string {
	names := make([]string, 0, len(w.Currencies))
	for name := range w.Currencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
