// Package dream implements octave gradient ascent on an input image: the
// image is nudged, coarse resolution first, toward whatever amplifies the
// chosen channels of one or more feature extractors.
//
// A run is configured once with Config, checked by New, and executed by
// Dreamer.Run. Each ascent step evaluates every extractor, sums the
// weighted L2 norms of the targeted channels, back-propagates to the image,
// blurs the gradient and normalizes it by its own standard deviation before
// the update. Between octaves only the change made by optimization (the
// detail residual) is carried to the next finer resolution.
package dream
