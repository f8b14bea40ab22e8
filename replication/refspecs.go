package replication

import (
	"sort"
	"strings"

	"github.com/ekiva-dev/ember/identity"
	"github.com/ekiva-dev/ember/pkgs/logger"
	"github.com/ekiva-dev/ember/refdb"
	"github.com/ekiva-dev/ember/remote/sigrefs"
)

// Refspec is one src:dst mapping of a fetch, optionally forced.
type Refspec struct {
	Src   string
	Dst   string
	Force bool
}

// String renders the spec in git's textual form.
func (r Refspec) String() string {
	s := r.Src + ":" + r.Dst
	if r.Force {
		return "+" + s
	}
	return s
}

var idCarrierRefs = []string{"rad/id", "rad/self", "rad/signed_refs"}

// nsRef builds refs/namespaces/<urn>/refs/<rest>.
func nsRef(urn identity.Urn, rest string) string {
	return refdb.NamespacePrefix(urn) + "/refs/" + rest
}

// remoteName rewrites a fully qualified refs/<rest> name to its location
// on the remote: the remote peer's own refs live unprefixed in the
// namespace, every other peer's live under refs/remotes/<peer>/.
func remoteName(urn identity.Urn, remotePeer, peer, name string) string {
	rest := strings.TrimPrefix(name, "refs/")
	if peer == remotePeer {
		return nsRef(urn, rest)
	}
	return nsRef(urn, "remotes/"+peer+"/"+rest)
}

// localName is the destination of a peer's ref: always remote-qualified.
func localName(urn identity.Urn, peer, name string) string {
	rest := strings.TrimPrefix(name, "refs/")
	return nsRef(urn, "remotes/"+peer+"/"+rest)
}

// AllSpecs covers every identity-carrier ref under the namespace with a
// remote glob (clone phase A).
func AllSpecs(urn identity.Urn) []Refspec {
	out := make([]Refspec, 0, len(idCarrierRefs))
	for _, rest := range idCarrierRefs {
		name := nsRef(urn, "remotes/*/"+rest)
		out = append(out, Refspec{Src: name, Dst: name})
	}
	return out
}

// PeekSpecs covers the identity-carrier refs (plus the delegate symrefs
// under rad/ids/) of each named remote.
func PeekSpecs(urn identity.Urn, remotePeer string, remotes []string) []Refspec {
	sorted := append([]string{}, remotes...)
	sort.Strings(sorted)

	var out []Refspec
	seen := make(map[string]struct{})
	for _, r := range sorted {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		for _, rest := range append(append([]string{}, idCarrierRefs...), "rad/ids/*") {
			out = append(out, Refspec{
				Src: remoteName(urn, remotePeer, r, "refs/"+rest),
				Dst: localName(urn, r, "refs/"+rest),
			})
		}
	}
	return out
}

// SignedRefsSpecs covers the signed_refs record of each tracked peer.
func SignedRefsSpecs(urn identity.Urn, remotePeer string, tracked []string) []Refspec {
	sorted := append([]string{}, tracked...)
	sort.Strings(sorted)

	var out []Refspec
	seen := make(map[string]struct{})
	for _, p := range sorted {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, Refspec{
			Src: remoteName(urn, remotePeer, p, "refs/rad/signed_refs"),
			Dst: localName(urn, p, "refs/rad/signed_refs"),
		})
	}
	return out
}

// ReplicateSpecs emits a force-true spec per signed ref whose advertised
// remote OID matches the signed-refs record; mismatches are logged and
// dropped. The set additionally covers the remote peer's own rad refs
// and, per delegate URN, that namespace's rad refs and tracked signed
// refs. The output is deterministic in its inputs regardless of map
// iteration order.
func ReplicateSpecs(
	urn identity.Urn,
	remotePeer string,
	remoteHeads map[string]identity.Oid,
	trackedSigrefs map[string]sigrefs.Refs,
	delegates []identity.Urn,
	log logger.Logger,
) []Refspec {
	peers := make([]string, 0, len(trackedSigrefs))
	for p := range trackedSigrefs {
		peers = append(peers, p)
	}
	sort.Strings(peers)

	var out []Refspec
	for _, peer := range peers {
		refs := trackedSigrefs[peer]
		for _, name := range refs.Names() {
			target, _ := refs.Find(name)
			advertised := remoteName(urn, remotePeer, peer, name)
			have, ok := remoteHeads[advertised]
			if !ok || !have.Equal(target) {
				if log != nil {
					log.Debug("Skipping signed ref with mismatched advertisement",
						"ref", advertised, "want", target.Hex())
				}
				continue
			}
			out = append(out, Refspec{
				Src:   advertised,
				Dst:   localName(urn, peer, name),
				Force: true,
			})
		}
	}

	out = append(out, PeekSpecs(urn, remotePeer, []string{remotePeer})...)

	sortedDelegates := append([]identity.Urn{}, delegates...)
	sort.Slice(sortedDelegates, func(i, j int) bool {
		return sortedDelegates[i].MapKey() < sortedDelegates[j].MapKey()
	})
	for _, delegate := range sortedDelegates {
		out = append(out, PeekSpecs(delegate, remotePeer, []string{remotePeer})...)
		out = append(out, SignedRefsSpecs(delegate, remotePeer, peers)...)
	}

	return dedupSpecs(out)
}

func dedupSpecs(specs []Refspec) []Refspec {
	seen := make(map[Refspec]struct{}, len(specs))
	out := make([]Refspec, 0, len(specs))
	for _, s := range specs {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
