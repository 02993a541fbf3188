package paygate

// findByNetworkAndScheme resolves the registration serving a concrete
// network and scheme. Exact network entries win over wildcard entries so a
// chain-specific mechanism can shadow a namespace-wide one.
func findByNetworkAndScheme[T any](registrations map[Network]map[string]T, network Network, scheme string) (T, bool) {
	if byScheme, ok := registrations[network]; ok {
		if v, ok := byScheme[scheme]; ok {
			return v, true
		}
	}
	for registered, byScheme := range registrations {
		if !registered.IsWildcard() || !registered.Match(network) {
			continue
		}
		if v, ok := byScheme[scheme]; ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// findSchemesByNetwork lists the schemes registered for a concrete network,
// including those contributed by wildcard registrations.
func findSchemesByNetwork[T any](registrations map[Network]map[string]T, network Network) []string {
	seen := make(map[string]struct{})
	var schemes []string
	for registered, byScheme := range registrations {
		if !registered.Match(network) {
			continue
		}
		for scheme := range byScheme {
			if _, ok := seen[scheme]; ok {
				continue
			}
			seen[scheme] = struct{}{}
			schemes = append(schemes, scheme)
		}
	}
	return schemes
}
