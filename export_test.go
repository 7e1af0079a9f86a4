// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pathway

// Unregister removes the named func from the registry so that tests
// may register funcs with the same name more than once.
func Unregister(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(funcs, name)
	for i, f := range byDecl {
		if f.name == name {
			byDecl = append(byDecl[:i], byDecl[i+1:]...)
			break
		}
	}
}
