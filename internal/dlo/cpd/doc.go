// Package cpd implements Gaussian-mixture point-set registration for node
// chains.
//
// Register is the tracking optimiser: an EM loop that moves an ordered node
// set toward an observed point cloud through a coherent deformation field
// Y = Y0 + G·W, where G is a motion-coherence kernel over node distances
// (Euclidean or along-chain). Optional terms add a locally-linear shape
// prior, soft correspondence priors (anchors), geodesic responsibilities
// that respect the chain topology under folds, and occlusion-aware
// responsibility reweighting.
//
// EstimateInitialNodes is the unregularised mixture fit used once at
// bootstrap to obtain a first skeleton from raw points.
//
// Both are strictly sequential per call; callers own the node state.
package cpd
