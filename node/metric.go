package node

import (
	"sort"

	"github.com/vstore/vstore/common/models"
)

// DistanceMetric ranks node types by their typical network proximity to the
// device. Lower is preferred when choosing a download source.
func DistanceMetric(t models.NodeType) int {
	switch t {
	case models.NodeTypeCloudlet:
		return 1
	case models.NodeTypeGateway:
		return 2
	case models.NodeTypeCoreNet:
		return 3
	case models.NodeTypeCloud:
		return 4
	default:
		return 4
	}
}

// SortByDistanceMetric orders nodes by ascending metric. The sort is stable
// so equally ranked nodes keep their input order.
func SortByDistanceMetric(nodes []*models.StorageNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return DistanceMetric(nodes[i].Type) < DistanceMetric(nodes[j].Type)
	})
}
