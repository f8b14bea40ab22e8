package identity

// DelegateView is one resolved entry of a document's delegation set: a
// direct key contributes itself, an indirect Person URN contributes every
// key in that person's own verified delegation set.
type DelegateView struct {
	Entry      DelegationEntry
	Keys       []PeerId
	PersonHead *Verified // non-nil when Entry.IsPerson()
}

// ResolveDelegateViews resolves every entry of a document's delegation set
// individually, surfacing the per-entry structure replication needs to
// track delegate peers and materialize person namespaces (one DelegateView
// per delegation entry, as opposed to EffectiveDelegationKeys' flattened
// list used purely for the quorum predicate).
func ResolveDelegateViews(doc *Document, resolver PersonResolver) ([]DelegateView, error) {
	views := make([]DelegateView, 0, len(doc.Delegations))
	for _, del := range doc.Delegations {
		if del.Key != nil {
			views = append(views, DelegateView{Entry: del, Keys: []PeerId{*del.Key}})
			continue
		}

		if resolver == nil {
			return nil, ErrDanglingParent
		}
		head, err := resolver.FindLatest(*del.Person)
		if err != nil {
			return nil, err
		}
		verified, err := resolver.VerifyPersonHead(*del.Person, head)
		if err != nil {
			return nil, err
		}
		keys := verified.Rev().Document.DelegationKeys()
		views = append(views, DelegateView{Entry: del, Keys: keys, PersonHead: &verified})
	}
	return views, nil
}

// CallbackResolver is a PersonResolver built from two plain functions,
// letting replication (or tests) supply lookup/verification behavior
// without declaring a named type for every call site.
type CallbackResolver struct {
	FindLatestFunc func(urn Urn) (Oid, error)
	VerifyFunc     func(urn Urn, head Oid) (Verified, error)
}

// FindLatest implements PersonResolver.
func (c CallbackResolver) FindLatest(urn Urn) (Oid, error) { return c.FindLatestFunc(urn) }

// VerifyPersonHead implements PersonResolver.
func (c CallbackResolver) VerifyPersonHead(urn Urn, head Oid) (Verified, error) {
	return c.VerifyFunc(urn, head)
}
