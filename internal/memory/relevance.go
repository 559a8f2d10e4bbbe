package memory

// explainRelevance описывает оценку словами.
func explainRelevance(score float64) string {
	switch {
	case score > 0.8:
		return "高度相关：与查询内容高度吻合"
	case score > 0.6:
		return "中度相关：与查询内容部分吻合"
	case score > 0.4:
		return "低度相关：与查询存在一定联系"
	default:
		return "弱相关：与查询联系较弱"
	}
}
