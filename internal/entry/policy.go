package entry

import "sync"

// Product flags. A deep flag cascades transitively and implies its shallow
// counterpart.
const (
	FlagUpdateVariants     = "updateVariants"
	FlagUpdateVariantsDeep = "updateVariantsDeep"
	FlagUpdateVirtual      = "updateVirtual"
	FlagUpdateVirtualDeep  = "updateVirtualDeep"
)

// KindProduct is the entity kind indexed by the bundled product pipeline.
const KindProduct = "Product"

// FlagPolicy describes the kind-specific flags of an entry variant.
type FlagPolicy struct {
	// Implies maps a deep flag to the shallow flag it forces true.
	Implies map[string]string
}

// ProductPolicy is the flag policy for product entries.
var ProductPolicy = FlagPolicy{
	Implies: map[string]string{
		FlagUpdateVariantsDeep: FlagUpdateVariants,
		FlagUpdateVirtualDeep:  FlagUpdateVirtual,
	},
}

var (
	policiesMu sync.RWMutex
	policies   = map[string]FlagPolicy{
		KindProduct: ProductPolicy,
	}
)

// RegisterPolicy installs the flag policy for an entity kind.
// Intended to be called during program initialization.
func RegisterPolicy(kind string, p FlagPolicy) {
	policiesMu.Lock()
	defer policiesMu.Unlock()
	policies[kind] = p
}

// PolicyFor returns the flag policy for kind, or an empty policy.
func PolicyFor(kind string) FlagPolicy {
	policiesMu.RLock()
	defer policiesMu.RUnlock()
	return policies[kind]
}

// IsUpdateRelated reports whether a product entry asks for any cascade.
func IsUpdateRelated(e *Entry) bool {
	return e.Flag(FlagUpdateVariants) || e.Flag(FlagUpdateVirtual)
}
