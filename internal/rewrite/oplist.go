package rewrite

// supportedOps is the target-runtime operator allow-list. The list is
// maintained to track the web runtime's kernel registry; ops absent from it
// fail the op check pass unless the caller skips the check.
var supportedOps = map[string]bool{}

func init() {
	for _, op := range []string{
		// Arithmetic
		"Add", "AddN", "AddV2", "BiasAdd", "Sub", "RealDiv", "Div", "DivNoNan",
		"FloorDiv", "Mul", "Maximum", "Minimum", "Pow", "SquaredDifference",
		"Mod", "FloorMod",
		// Basic math
		"Abs", "Acos", "Acosh", "Asin", "Asinh", "Atan", "Atanh", "Atan2",
		"Ceil", "ClipByValue", "Cos", "Cosh", "Elu", "Erf", "Exp", "Expm1",
		"Floor", "Log", "Log1p", "LogicalAnd", "LogicalNot", "LogicalOr",
		"Neg", "Reciprocal", "Relu", "Relu6", "Selu", "Sigmoid", "Sign",
		"Sin", "Sinh", "Softplus", "Sqrt", "Rsqrt", "Square", "Tan", "Tanh",
		"Prelu", "LeakyRelu", "IsNan", "Round",
		// Convolution
		"AvgPool", "MaxPool", "MaxPoolWithArgmax", "AvgPool3D", "MaxPool3D",
		"Conv1D", "Conv2D", "Conv2DBackpropInput", "Conv3D",
		"DepthwiseConv2d", "DepthwiseConv2dNative", "Dilation2D",
		"_FusedConv2D", "FusedDepthwiseConv2dNative",
		// Matrices
		"MatMul", "BatchMatMul", "BatchMatMulV2", "Transpose", "Einsum",
		"_FusedMatMul",
		// Normalization
		"FusedBatchNorm", "FusedBatchNormV2", "FusedBatchNormV3", "LRN",
		"Softmax", "LogSoftmax",
		// Reduction
		"All", "Any", "ArgMax", "ArgMin", "Max", "Mean", "Min", "Prod",
		"Sum", "Cumsum", "Cumprod", "Bincount", "DenseBincount",
		// Comparison
		"Equal", "NotEqual", "Greater", "GreaterEqual", "Less", "LessEqual",
		"Select", "SelectV2",
		// Creation / transformation
		"Cast", "ExpandDims", "Fill", "LinSpace", "Multinomial", "OneHot",
		"Ones", "OnesLike", "RandomStandardNormal", "RandomUniform",
		"RandomUniformInt", "Range", "TruncatedNormal", "Zeros", "ZerosLike",
		"Reshape", "Squeeze", "MirrorPad", "Pad", "PadV2", "SpaceToBatchND",
		"BatchToSpaceND", "DepthToSpace", "BroadcastTo", "BroadcastArgs",
		// Slice and join
		"ConcatV2", "Concat", "GatherV2", "Gather", "GatherNd", "Pack",
		"Reverse", "ReverseV2", "Slice", "StridedSlice", "Split", "SplitV",
		"ScatterNd", "TensorScatterUpdate", "SparseToDense", "Tile",
		"Unpack", "Unique", "UniqueV2",
		// Image
		"ResizeBilinear", "ResizeNearestNeighbor", "CropAndResize",
		"ImageProjectiveTransformV3",
		// Graph plumbing
		"Const", "FakeQuantWithMinMaxVars", "Identity", "IdentityN", "NoOp",
		"Placeholder", "PlaceholderWithDefault", "Print", "Rank", "Shape",
		"ShapeN", "Size", "Snapshot", "StopGradient", "Weight",
		// Control flow, classic dialect
		"Enter", "Exit", "LoopCond", "Merge", "NextIteration", "Switch",
		// Control flow, structured dialect
		"If", "StatelessIf", "While", "StatelessWhile", "PartitionedCall",
		"StatefulPartitionedCall",
		// Tensor arrays and lists
		"TensorArrayV3", "TensorArrayWriteV3", "TensorArrayReadV3",
		"TensorArrayGatherV3", "TensorArrayScatterV3", "TensorArrayConcatV3",
		"TensorArraySplitV3", "TensorArraySizeV3", "TensorArrayCloseV3",
		"TensorListConcat", "TensorListFromTensor", "TensorListGather",
		"TensorListGetItem", "TensorListLength", "TensorListPopBack",
		"TensorListPushBack", "TensorListReserve", "TensorListSetItem",
		"TensorListSplit", "TensorListStack", "EmptyTensorList",
		// Variables and resources
		"VarHandleOp", "ReadVariableOp", "VariableV2", "Variable",
		"AssignVariableOp",
		// Lookup tables
		"HashTable", "HashTableV2", "LookupTableImport", "LookupTableImportV2",
		"LookupTableFind", "LookupTableFindV2", "LookupTableSize",
		"LookupTableSizeV2", "InitializeTable", "InitializeTableV2",
		// Strings
		"StringSplit", "StringToHashBucketFast", "StringLower", "StaticRegexReplace",
		// Sparse
		"SparseFillEmptyRows", "SparseReshape", "SparseSegmentMean",
		"SparseSegmentSum",
		// Spectral
		"FFT", "IFFT", "RFFT", "IRFFT",
		// Misc
		"NonMaxSuppressionV3", "NonMaxSuppressionV4", "NonMaxSuppressionV5",
		"TopKV2", "Where", "BitwiseAnd",
	} {
		supportedOps[op] = true
	}
}
