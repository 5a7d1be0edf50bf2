package images

// Link builds the multi-arch dependency graph over the discovered set. For
// every image whose manifest is an index, each declared child digest is
// resolved against the set within the same package; digests that resolve
// become Children in manifest order, and an image with at least one resolved
// child is marked MultiArch.
//
// Declared digests that do not resolve are not an error here: the manifest
// keeps declaring them, which is what partial and ghost detection is based
// on.
func Link(set *Set) {
	for _, img := range set.All() {
		declared := img.Manifest.ChildDigests()
		if len(declared) == 0 {
			continue
		}
		for _, dgst := range declared {
			if _, ok := set.Resolve(img, dgst); ok {
				img.Children = append(img.Children, dgst)
			}
		}
		if len(img.Children) > 0 {
			img.MultiArch = true
		}
	}
}
