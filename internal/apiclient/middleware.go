package apiclient

// Middleware augments the request before dispatch. It must be synchronous
// and return the bag to continue with; returning nil keeps the input bag.
type Middleware func(bag *Bag, ep Endpoint) *Bag

// applyChain left-folds mws over bag.
func applyChain(bag *Bag, ep Endpoint, mws []Middleware) *Bag {
	for _, mw := range mws {
		if mw == nil {
			continue
		}
		if next := mw(bag, ep); next != nil {
			bag = next
		}
	}
	bag.sync()
	return bag
}

// Chain composes mws into one Middleware that applies them in order.
func Chain(mws ...Middleware) Middleware {
	return func(bag *Bag, ep Endpoint) *Bag {
		for _, mw := range mws {
			if mw == nil {
				continue
			}
			if next := mw(bag, ep); next != nil {
				bag = next
			}
		}
		return bag
	}
}

// SetParam sets query parameter key to the value returned by fn. An empty
// value leaves the bag untouched, so a missing token never clobbers the URL.
func SetParam(key string, fn func() string) Middleware {
	return func(bag *Bag, _ Endpoint) *Bag {
		if v := fn(); v != "" {
			bag.Params.Set(key, v)
		}
		return bag
	}
}

// SetHeader sets header key to the value returned by fn when non-empty.
func SetHeader(key string, fn func() string) Middleware {
	return func(bag *Bag, _ Endpoint) *Bag {
		if v := fn(); v != "" {
			bag.Header.Set(key, v)
		}
		return bag
	}
}
